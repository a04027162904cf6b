package session

import (
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/instrument-catalog/backend/internal/detector"
	"github.com/instrument-catalog/backend/internal/fileindex"
	"github.com/instrument-catalog/backend/internal/instruments"
	"github.com/instrument-catalog/backend/internal/storage"
)

var windowStart = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

// stubExtractor serves canned metadata keyed by base filename.
type stubExtractor struct {
	meta map[string]map[string]string
}

func (s *stubExtractor) Extract(path string) (map[string]string, []string, error) {
	m, ok := s.meta[filepath.Base(path)]
	if !ok {
		return nil, nil, nil
	}
	return m, nil, nil
}

// sessionFixture creates data files in two mtime clusters and indexes them.
func sessionFixture(t *testing.T) (*fileindex.Index, *instruments.Instrument, *stubExtractor) {
	t.Helper()
	root := t.TempDir()

	ix, err := fileindex.Open(filepath.Join(t.TempDir(), "index.duckdb"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })

	// Two clusters separated by a large gap, like an operator switching
	// instrument modes mid-session.
	offsets := map[string]time.Duration{
		"img1.dm3":  0,
		"img2.dm3":  2 * time.Second,
		"img3.dm3":  4 * time.Second,
		"spec1.dm3": 30 * time.Minute,
		"spec2.dm3": 30*time.Minute + 2*time.Second,
	}
	ext := &stubExtractor{meta: map[string]map[string]string{
		"img1.dm3":  {"DatasetType": "Image", "Mode": "TEM", "Exposure": "1"},
		"img2.dm3":  {"DatasetType": "Image", "Mode": "TEM", "Exposure": "2"},
		"img3.dm3":  {"DatasetType": "Image", "Mode": "TEM", "Exposure": "3"},
		"spec1.dm3": {"DatasetType": "Spectrum", "Mode": "EELS", "Dispersion": "0.1"},
		"spec2.dm3": {"DatasetType": "Spectrum", "Mode": "EELS", "Dispersion": "0.2"},
	}}

	for name, off := range offsets {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, []byte("raw"), 0644); err != nil {
			t.Fatal(err)
		}
		mtime := windowStart.Add(off)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
		if err := ix.Add(path, mtime, 3); err != nil {
			t.Fatal(err)
		}
	}

	instr := &instruments.Instrument{
		ID:          "FEI-Titan-TEM",
		DisplayName: "FEI Titan TEM",
		RootPath:    root,
		DefaultMode: "IMAGING",
	}
	return ix, instr, ext
}

func TestBuilder_BuildRecord(t *testing.T) {
	ix, instr, ext := sessionFixture(t)

	b := &Builder{
		Index:        ix,
		Extractor:    ext,
		Detector:     &detector.Detector{},
		Reservations: StaticReservations{SampleID: "sample-7"},
	}

	result, err := b.BuildRecord(instr, windowStart, windowStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}

	if result.ActivityCount != 2 {
		t.Errorf("expected 2 activities, got %d", result.ActivityCount)
	}
	if result.FileCount != 5 {
		t.Errorf("expected 5 files, got %d", result.FileCount)
	}
	if result.SkippedCount != 0 {
		t.Errorf("expected no skips, got %d", result.SkippedCount)
	}

	s := string(result.XML)
	if !strings.Contains(s, `seqno="0"`) || !strings.Contains(s, `seqno="1"`) {
		t.Errorf("expected sequential activity numbering:\n%s", s)
	}
	if !strings.Contains(s, `<sampleID>sample-7</sampleID>`) {
		t.Errorf("sample ID missing:\n%s", s)
	}
	// The first cluster shares Mode=TEM so it is hoisted into setup.
	if !strings.Contains(s, `<param name="Mode">TEM</param>`) {
		t.Errorf("expected Mode setup param in first activity:\n%s", s)
	}

	// The concatenated fragments must stay well-formed.
	dec := xml.NewDecoder(strings.NewReader(s))
	for {
		var node struct {
			XMLName xml.Name
		}
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("record fragments are not well-formed: %v", err)
		}
	}
}

func TestBuilder_SkipsUnusableFiles(t *testing.T) {
	ix, instr, ext := sessionFixture(t)

	// One extra indexed file whose metadata cannot be extracted.
	orphan := filepath.Join(instr.RootPath, "orphan.dm3")
	if err := os.WriteFile(orphan, []byte("raw"), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := windowStart.Add(3 * time.Second)
	if err := os.Chtimes(orphan, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	if err := ix.Add(orphan, mtime, 3); err != nil {
		t.Fatal(err)
	}

	b := &Builder{
		Index:        ix,
		Extractor:    ext,
		Detector:     &detector.Detector{},
		Reservations: StaticReservations{},
	}

	result, err := b.BuildRecord(instr, windowStart, windowStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if result.SkippedCount != 1 {
		t.Errorf("expected 1 skipped file, got %d", result.SkippedCount)
	}
	if result.FileCount != 5 {
		t.Errorf("expected 5 usable files, got %d", result.FileCount)
	}
}

func TestBuilder_EmptyWindow(t *testing.T) {
	ix, instr, ext := sessionFixture(t)

	b := &Builder{
		Index:        ix,
		Extractor:    ext,
		Detector:     &detector.Detector{},
		Reservations: StaticReservations{},
	}

	_, err := b.BuildRecord(instr, windowStart.Add(5*time.Hour), windowStart.Add(6*time.Hour))
	if err == nil {
		t.Error("expected error for window with no files")
	}
}

func TestManager_StartBuild(t *testing.T) {
	ix, instr, ext := sessionFixture(t)
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	b := &Builder{
		Index:        ix,
		Extractor:    ext,
		Detector:     &detector.Detector{},
		Reservations: StaticReservations{SampleID: "sample-7"},
	}
	m := NewManager(b, store)

	sess, err := m.StartBuild(instr, windowStart, windowStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got, ok := m.GetSession(sess.ID)
		if !ok {
			t.Fatal("session vanished")
		}
		if got.Status == "complete" {
			if got.ActivityCount != 2 {
				t.Errorf("expected 2 activities, got %d", got.ActivityCount)
			}
			if got.RecordID == "" {
				t.Fatal("expected a stored record")
			}
			if _, err := store.Get(got.RecordID); err != nil {
				t.Errorf("stored record not retrievable: %v", err)
			}
			break
		}
		if got.Status == "error" {
			t.Fatalf("build failed: %s", got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("build did not finish; status=%s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
