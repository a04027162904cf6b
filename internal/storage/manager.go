// Package storage persists emitted activity record documents on the local
// filesystem.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/instrument-catalog/backend/internal/models"
)

// Store defines the interface for record storage.
type Store interface {
	Save(name string, r io.Reader) (*models.RecordInfo, error)
	Get(id string) (*models.RecordInfo, error)
	List(limit int) ([]*models.RecordInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
}

// LocalStore implements Store using the local filesystem. Records are kept
// under one directory keyed by generated IDs; the directory is rescanned on
// startup so records survive restarts.
type LocalStore struct {
	mu         sync.RWMutex
	recordsDir string
	records    map[string]*models.RecordInfo
}

// NewLocalStore creates a new LocalStore rooted at recordsDir.
func NewLocalStore(recordsDir string) (*LocalStore, error) {
	if err := os.MkdirAll(recordsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating records directory: %w", err)
	}

	s := &LocalStore{
		recordsDir: recordsDir,
		records:    make(map[string]*models.RecordInfo),
	}
	s.scanExisting()
	return s, nil
}

// scanExisting reloads record metadata for files already on disk.
func (s *LocalStore) scanExisting() {
	entries, err := os.ReadDir(s.recordsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		// On-disk layout: <id>_<display name>
		id, name, ok := splitRecordFilename(e.Name())
		if !ok {
			continue
		}
		s.records[id] = &models.RecordInfo{
			ID:        id,
			Name:      name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
	}
}

// Save writes a record document to the local filesystem.
func (s *LocalStore) Save(name string, r io.Reader) (*models.RecordInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.recordsDir, id+"_"+filepath.Base(name))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating record file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing record file: %w", err)
	}

	info := &models.RecordInfo{
		ID:        id,
		Name:      filepath.Base(name),
		Size:      size,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = info

	return info, nil
}

// Get retrieves record metadata by ID.
func (s *LocalStore) Get(id string) (*models.RecordInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	return info, nil
}

// List returns the most recent records.
func (s *LocalStore) List(limit int) ([]*models.RecordInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*models.RecordInfo
	for _, info := range s.records {
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a record from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record not found: %s", id)
	}

	path := filepath.Join(s.recordsDir, id+"_"+info.Name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting record file: %w", err)
	}

	delete(s.records, id)
	return nil
}

// GetFilePath returns the absolute path to a record document.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.records[id]
	if !ok {
		return "", fmt.Errorf("record not found: %s", id)
	}
	return filepath.Join(s.recordsDir, id+"_"+info.Name), nil
}

// splitRecordFilename splits "<uuid>_<name>" into its parts.
func splitRecordFilename(filename string) (id, name string, ok bool) {
	const uuidLen = 36
	if len(filename) < uuidLen+2 || filename[uuidLen] != '_' {
		return "", "", false
	}
	if _, err := uuid.Parse(filename[:uuidLen]); err != nil {
		return "", "", false
	}
	return filename[:uuidLen], filename[uuidLen+1:], true
}
