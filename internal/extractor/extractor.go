// Package extractor defines the collaborator interfaces for per-file
// metadata extraction and preview generation. Reading raw instrument file
// formats is the job of implementations supplied by the caller; this package
// only fixes the contract and ships a sidecar-based implementation for
// deployments that stage metadata next to the data files.
package extractor

// Extractor produces the flattened metadata for a data file.
type Extractor interface {
	// Extract returns the flattened key/value metadata for the file at
	// path together with the names of metadata keys whose values are
	// untrustworthy. A nil metadata map with a nil error means the file
	// could not be parsed; callers log and skip such files rather than
	// aborting.
	Extract(path string) (map[string]string, []string, error)
}

// PreviewGenerator renders a preview artifact for a data file.
type PreviewGenerator interface {
	// Preview generates (or locates) the preview artifact for the file at
	// path and returns its location.
	Preview(path string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(path string) (map[string]string, []string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(path string) (map[string]string, []string, error) {
	return f(path)
}
