// Package metacache persists extraction results so repeated session builds
// do not re-run the (potentially slow) metadata extractor for files that
// have not changed. Entries are msgpack-encoded files keyed by the data
// file's path and mtime, so touching a data file invalidates its entry.
package metacache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/instrument-catalog/backend/internal/extractor"
)

var defaultLogger = log.New(os.Stdout, "[metacache] ", log.LstdFlags)

// Entry is one cached extraction result.
type Entry struct {
	Meta     map[string]string `msgpack:"meta"`
	Warnings []string          `msgpack:"warnings"`
}

// Cache stores extraction results under a directory, one msgpack file per
// data file.
type Cache struct {
	dir string
	mu  sync.RWMutex
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// entryPath derives the on-disk location for a data file's cache entry. The
// key covers path and mtime so stale entries are simply never hit again.
func (c *Cache) entryPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", path, info.ModTime().UnixNano())))
	return filepath.Join(c.dir, "meta_"+hex.EncodeToString(sum[:16])+".msgpack"), nil
}

// Get returns the cached entry for path, if any.
func (c *Cache) Get(path string) (*Entry, bool) {
	p, err := c.entryPath(path)
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	data, err := os.ReadFile(p)
	c.mu.RUnlock()
	if err != nil {
		return nil, false
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		c.mu.Lock()
		os.Remove(p)
		c.mu.Unlock()
		return nil, false
	}
	return &e, true
}

// Put stores an entry for path.
func (c *Cache) Put(path string, e *Entry) error {
	p, err := c.entryPath(path)
	if err != nil {
		return fmt.Errorf("keying cache entry: %w", err)
	}

	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// CachingExtractor wraps an Extractor with a Cache. Failed extractions are
// not cached, so a fixed file is re-attempted on the next build.
type CachingExtractor struct {
	inner  extractor.Extractor
	cache  *Cache
	logger *log.Logger
}

// NewCachingExtractor wraps inner with cache. logger may be nil, in which
// case the package default is used.
func NewCachingExtractor(inner extractor.Extractor, cache *Cache, logger *log.Logger) *CachingExtractor {
	if logger == nil {
		logger = defaultLogger
	}
	return &CachingExtractor{inner: inner, cache: cache, logger: logger}
}

// Extract implements extractor.Extractor.
func (ce *CachingExtractor) Extract(path string) (map[string]string, []string, error) {
	if e, ok := ce.cache.Get(path); ok {
		return e.Meta, e.Warnings, nil
	}

	meta, warnings, err := ce.inner.Extract(path)
	if err != nil || meta == nil {
		return meta, warnings, err
	}

	if putErr := ce.cache.Put(path, &Entry{Meta: meta, Warnings: warnings}); putErr != nil {
		// Cache trouble must not fail the extraction itself.
		ce.logger.Printf("failed to cache entry for %s: %v", path, putErr)
	}
	return meta, warnings, nil
}
