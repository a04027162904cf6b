package extractor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// warningsField is the sidecar field listing untrustworthy metadata keys.
const warningsField = "warnings"

// SidecarExtractor reads metadata from a JSON sidecar file stored next to
// the data file (<path>.json). Nested objects are flattened into dotted
// keys; a top-level "warnings" array names the untrustworthy keys.
type SidecarExtractor struct{}

// Extract implements Extractor. A missing or malformed sidecar yields a nil
// metadata map, which callers treat as a logged skip.
func (SidecarExtractor) Extract(path string) (map[string]string, []string, error) {
	data, err := os.ReadFile(path + ".json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading sidecar: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// Malformed sidecar is an extraction failure, not a fatal error.
		return nil, nil, nil
	}

	var warnings []string
	if w, ok := raw[warningsField].([]interface{}); ok {
		for _, v := range w {
			if s, ok := v.(string); ok {
				warnings = append(warnings, s)
			}
		}
		delete(raw, warningsField)
	}

	meta := make(map[string]string)
	flattenInto(meta, "", raw)
	return meta, warnings, nil
}

// flattenInto collapses nested objects into dotted keys, converting scalar
// values to their string form.
func flattenInto(dst map[string]string, prefix string, src map[string]interface{}) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flattenInto(dst, key, val)
		case string:
			dst[key] = val
		case bool:
			dst[key] = strconv.FormatBool(val)
		case float64:
			dst[key] = formatNumber(val)
		case []interface{}:
			dst[key] = joinList(val)
		case nil:
			dst[key] = ""
		default:
			dst[key] = fmt.Sprintf("%v", val)
		}
	}
}

// formatNumber renders integral floats without a trailing ".0".
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func joinList(list []interface{}) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}
