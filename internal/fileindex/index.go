// Package fileindex maintains a DuckDB-backed index of instrument data
// files and their modification times. Session builds query it for the files
// falling inside a reservation window instead of re-walking the instrument
// share every time.
package fileindex

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
)

// IndexedFile is one entry in the index.
type IndexedFile struct {
	Path  string
	Mtime time.Time
	Size  int64
}

// Index is a DuckDB-backed catalog of data files keyed by path.
type Index struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the index database at dbPath.
func Open(dbPath string) (*Index, error) {
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			path     VARCHAR PRIMARY KEY,
			mtime_ns BIGINT NOT NULL,
			size     BIGINT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating files table: %w", err)
	}

	return &Index{db: db, dbPath: dbPath}, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add records or refreshes one file.
func (ix *Index) Add(path string, mtime time.Time, size int64) error {
	_, err := ix.db.Exec(
		`INSERT OR REPLACE INTO files (path, mtime_ns, size) VALUES (?, ?, ?)`,
		path, mtime.UnixNano(), size)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", path, err)
	}
	return nil
}

// AddBatch records many files in one transaction.
func (ix *Index) AddBatch(files []IndexedFile) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO files (path, mtime_ns, size) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(f.Path, f.Mtime.UnixNano(), f.Size); err != nil {
			tx.Rollback()
			return fmt.Errorf("indexing %s: %w", f.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// ScanDir walks root and indexes every regular file found, skipping hidden
// files and metadata sidecars. Returns the number of files indexed.
func (ix *Index) ScanDir(root string) (int, error) {
	var batch []IndexedFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		batch = append(batch, IndexedFile{Path: path, Mtime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning %s: %w", root, err)
	}

	if err := ix.AddBatch(batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// FilesBetween returns the indexed files whose mtime falls in [start, end),
// ordered by mtime ascending then path.
func (ix *Index) FilesBetween(start, end time.Time) ([]IndexedFile, error) {
	rows, err := ix.db.Query(
		`SELECT path, mtime_ns, size FROM files
		 WHERE mtime_ns >= ? AND mtime_ns < ?
		 ORDER BY mtime_ns, path`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var files []IndexedFile
	for rows.Next() {
		var f IndexedFile
		var ns int64
		if err := rows.Scan(&f.Path, &ns, &f.Size); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		f.Mtime = time.Unix(0, ns)
		files = append(files, f)
	}
	return files, rows.Err()
}

// Count returns the number of indexed files.
func (ix *Index) Count() (int, error) {
	var n int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}
