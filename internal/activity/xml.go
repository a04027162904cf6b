package activity

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// datasetRole is the role attribute stamped on every dataset element.
const datasetRole = "Experimental"

// previewSuffix is appended to a dataset's location to form its preview
// location.
const previewSuffix = ".thumb.png"

// startTimeLayout matches the record schema's zone-less ISO-8601 start time.
const startTimeLayout = "2006-01-02T15:04:05"

type paramXML struct {
	Name    string `xml:"name,attr"`
	Warning string `xml:"warning,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type datasetXML struct {
	Type     string     `xml:"type,attr"`
	Role     string     `xml:"role,attr"`
	Name     string     `xml:"name"`
	Location string     `xml:"location"`
	Preview  string     `xml:"preview"`
	Meta     []paramXML `xml:"meta"`
}

type setupXML struct {
	Params []paramXML `xml:"param"`
}

type activityXML struct {
	XMLName   xml.Name     `xml:"acquisitionActivity"`
	Seqno     int          `xml:"seqno,attr"`
	StartTime string       `xml:"startTime"`
	SampleID  string       `xml:"sampleID"`
	Setup     setupXML     `xml:"setup"`
	Datasets  []datasetXML `xml:"dataset"`
}

// AsXML renders the activity as an acquisitionActivity record fragment.
// seqno is the activity's position in the session; sampleID is reproduced
// verbatim. rootPath is the configured instrument root stripped from file
// paths before they are percent-encoded into location values. The fragment
// carries no XML header or namespace declarations; an external assembler
// embeds it into the session-level document.
//
// Both partitioning passes must have run first.
func (a *Activity) AsXML(seqno int, sampleID string, rootPath string) ([]byte, error) {
	if a.SetupParams == nil {
		return nil, fmt.Errorf("activity has no setup params; call StoreSetupParams before AsXML")
	}
	if a.UniqueMeta == nil {
		return nil, fmt.Errorf("activity has no unique metadata; call StoreUniqueMetadata before AsXML")
	}

	rec := activityXML{
		Seqno:     seqno,
		StartTime: a.Start.Format(startTimeLayout),
		SampleID:  sampleID,
	}

	var firstWarnings []string
	if len(a.Warnings) > 0 {
		firstWarnings = a.Warnings[0]
	}
	for _, k := range sortedKeys(a.SetupParams) {
		if k == datasetTypeKey || k == warningsKey {
			continue
		}
		rec.Setup.Params = append(rec.Setup.Params, paramXML{
			Name: k,
			// Setup params are shared, so the flag from the first
			// file's warning list stands for all of them.
			Warning: warningAttr(flagged(firstWarnings, k)),
			Value:   a.SetupParams[k],
		})
	}

	for i, f := range a.Files {
		loc := encodeLocation(f, rootPath)
		ds := datasetXML{
			Type:     a.Meta[i][datasetTypeKey],
			Role:     datasetRole,
			Name:     filepath.Base(f),
			Location: loc,
			Preview:  encodeLocation(a.Previews[i], rootPath) + previewSuffix,
		}
		for _, k := range sortedKeys(a.UniqueMeta[i]) {
			if k == datasetTypeKey || k == warningsKey {
				continue
			}
			ds.Meta = append(ds.Meta, paramXML{
				Name:    k,
				Warning: warningAttr(flagged(a.Warnings[i], k)),
				Value:   a.UniqueMeta[i][k],
			})
		}
		rec.Datasets = append(rec.Datasets, ds)
	}

	return xml.MarshalIndent(rec, "", "  ")
}

// encodeLocation strips the instrument root prefix from an absolute path and
// percent-encodes the remainder segment by segment, keeping the slashes, so
// it is safe to embed in the record or a URL.
func encodeLocation(path, rootPath string) string {
	rel := strings.TrimPrefix(filepath.ToSlash(path), filepath.ToSlash(rootPath))
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = escapeSegment(s)
	}
	return strings.Join(segs, "/")
}

// escapeSegment percent-encodes every byte outside the RFC 3986 unreserved
// set. Sub-delimiters such as '&' and '+' are encoded too, so a location is
// usable verbatim as a URL path component.
func escapeSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// sortedKeys returns the map's keys ordered case-insensitively, with a
// byte-order tie-break so equal-fold keys still sort deterministically.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func warningAttr(flagged bool) string {
	if flagged {
		return "true"
	}
	return ""
}
