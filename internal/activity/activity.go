// Package activity models a single acquisition activity: a contiguous group
// of data files attributed to one physical step of an instrument session. It
// separates the files' metadata into activity-wide setup parameters and
// per-file unique metadata, and renders the result as an XML record
// fragment.
package activity

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/instrument-catalog/backend/internal/extractor"
)

// Reserved metadata keys that are handled structurally and never emitted as
// setup or per-file display parameters under their raw names.
const (
	datasetTypeKey = "DatasetType"
	warningsKey    = "warnings"
)

var defaultLogger = log.New(os.Stdout, "[activity] ", log.LstdFlags)

// Activity is a collection of files and metadata belonging to one
// acquisition activity. Files, Meta, UniqueMeta, Warnings and Previews are
// parallel: entry i in each describes the same file. Every mutation keeps
// the lengths identical.
type Activity struct {
	Start time.Time
	End   time.Time
	Mode  string

	Files      []string
	Meta       []map[string]string
	UniqueMeta []map[string]string
	Warnings   [][]string
	Previews   []string

	// SetupParams holds the metadata shared by every file in the
	// activity, populated by StoreSetupParams.
	SetupParams map[string]string

	ext    extractor.Extractor
	prev   extractor.PreviewGenerator
	logger *log.Logger
}

// New creates an empty Activity covering [start, end) in the given mode.
// ext supplies per-file metadata; prev may be nil, in which case the data
// file's own path stands in for its preview artifact. logger may be nil.
func New(start, end time.Time, mode string, ext extractor.Extractor, prev extractor.PreviewGenerator, logger *log.Logger) *Activity {
	if logger == nil {
		logger = defaultLogger
	}
	return &Activity{
		Start:  start,
		End:    end,
		Mode:   mode,
		ext:    ext,
		prev:   prev,
		logger: logger,
	}
}

// AddFile appends one file to the activity. The path must exist; a missing
// file returns an error (wrapping fs.ErrNotExist) and leaves the activity
// unchanged. An extraction failure is logged and the file is skipped
// entirely so the parallel sequences never hold a partial entry.
func (a *Activity) AddFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("adding file to activity: %w", err)
	}

	meta, warnings, err := a.ext.Extract(path)
	if err != nil {
		a.logger.Printf("could not extract metadata of %s: %v", path, err)
		return nil
	}
	if meta == nil {
		a.logger.Printf("could not extract metadata of %s; skipping", path)
		return nil
	}

	preview := path
	if a.prev != nil {
		p, err := a.prev.Preview(path)
		if err != nil {
			a.logger.Printf("could not generate preview of %s: %v", path, err)
		} else {
			preview = p
		}
	}

	if warnings == nil {
		warnings = []string{}
	}

	// Append to all parallel sequences together; nothing above this point
	// has mutated the activity.
	a.Files = append(a.Files, path)
	a.Meta = append(a.Meta, meta)
	a.Warnings = append(a.Warnings, warnings)
	a.Previews = append(a.Previews, preview)
	return nil
}

// StoreSetupParams computes the activity-wide setup parameters: every
// candidate key that is present with an identical value in every file's
// metadata. With a single file all metadata is inherently per-file, so the
// result is empty. A nil candidates slice means the union of all keys across
// all files. The computation is a fresh pass each call, so recomputing on an
// unchanged file set is idempotent.
func (a *Activity) StoreSetupParams(candidates []string) {
	if len(a.Files) == 1 {
		a.logger.Printf("only one file in activity; leaving metadata with the file")
		a.SetupParams = map[string]string{}
		return
	}

	if candidates == nil {
		candidates = a.uniqueParams()
	}

	// Single pass over all files: remember the first value seen for each
	// candidate and drop any key that is missing from a file or disagrees.
	// Checking membership in every file (not just the first) keeps keys
	// that are absent from file 0 but invariant everywhere from being
	// silently misclassified.
	firstVal := make(map[string]string, len(candidates))
	dead := make(map[string]bool)
	for _, k := range candidates {
		if k == datasetTypeKey || k == warningsKey {
			dead[k] = true
		}
	}
	for _, m := range a.Meta {
		for _, k := range candidates {
			if dead[k] {
				continue
			}
			v, ok := m[k]
			if !ok {
				dead[k] = true
				continue
			}
			if seen, ok := firstVal[k]; !ok {
				firstVal[k] = v
			} else if seen != v {
				dead[k] = true
			}
		}
	}

	setup := make(map[string]string)
	for _, k := range candidates {
		if !dead[k] {
			// A key can only be alive after visiting every file, so
			// firstVal is guaranteed populated here.
			setup[k] = firstVal[k]
		}
	}
	a.SetupParams = setup
}

// StoreUniqueMetadata computes, for each file, the metadata remaining after
// setup parameters are removed. Calling it before StoreSetupParams is a
// usage error: it logs a warning and leaves the activity unchanged.
func (a *Activity) StoreUniqueMetadata() {
	if a.SetupParams == nil {
		a.logger.Printf("setup params not computed; call StoreSetupParams first (nothing was done)")
		return
	}

	unique := make([]map[string]string, len(a.Meta))
	for i, m := range a.Meta {
		u := make(map[string]string)
		for k, v := range m {
			if _, shared := a.SetupParams[k]; !shared {
				u[k] = v
			}
		}
		unique[i] = u
	}
	a.UniqueMeta = unique
}

// uniqueParams returns the union of metadata keys across all files, in
// unspecified order.
func (a *Activity) uniqueParams() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range a.Meta {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// flagged reports whether key appears in the given warning list.
func flagged(warnings []string, key string) bool {
	for _, w := range warnings {
		if w == key {
			return true
		}
	}
	return false
}
