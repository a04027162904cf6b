package fileindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.duckdb"))
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestIndex_AddAndQuery(t *testing.T) {
	ix := openTestIndex(t)
	base := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

	files := []IndexedFile{
		{Path: "/data/a.dm3", Mtime: base, Size: 10},
		{Path: "/data/b.dm3", Mtime: base.Add(30 * time.Second), Size: 20},
		{Path: "/data/c.dm3", Mtime: base.Add(2 * time.Hour), Size: 30},
	}
	if err := ix.AddBatch(files); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	got, err := ix.FilesBetween(base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FilesBetween: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 files in window, got %d", len(got))
	}
	if got[0].Path != "/data/a.dm3" || got[1].Path != "/data/b.dm3" {
		t.Errorf("unexpected ordering: %v", got)
	}
	if !got[1].Mtime.Equal(base.Add(30 * time.Second)) {
		t.Errorf("mtime not preserved: %v", got[1].Mtime)
	}
}

func TestIndex_AddReplacesExisting(t *testing.T) {
	ix := openTestIndex(t)
	base := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

	if err := ix.Add("/data/a.dm3", base, 10); err != nil {
		t.Fatal(err)
	}
	// Re-index with a newer mtime; the entry must be replaced, not doubled.
	if err := ix.Add("/data/a.dm3", base.Add(time.Minute), 12); err != nil {
		t.Fatal(err)
	}

	n, err := ix.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry after re-index, got %d", n)
	}

	got, err := ix.FilesBetween(base.Add(30*time.Second), base.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Size != 12 {
		t.Errorf("expected replaced entry, got %v", got)
	}
}

func TestIndex_ScanDir(t *testing.T) {
	ix := openTestIndex(t)
	dir := t.TempDir()

	mustWrite := func(name string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("a.dm3")
	mustWrite("b.tif")
	mustWrite("a.dm3.json") // sidecar, not a data file
	mustWrite(".hidden")

	n, err := ix.ScanDir(dir)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 indexed files, got %d", n)
	}
}
