// Package session orchestrates record building: it selects the files for a
// session window, detects activity boundaries, partitions each activity's
// metadata and assembles the serialized record document.
package session

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/instrument-catalog/backend/internal/activity"
	"github.com/instrument-catalog/backend/internal/detector"
	"github.com/instrument-catalog/backend/internal/extractor"
	"github.com/instrument-catalog/backend/internal/fileindex"
	"github.com/instrument-catalog/backend/internal/instruments"
)

var defaultLogger = log.New(os.Stdout, "[session] ", log.LstdFlags)

// Reservation carries the scheduling context for a session window.
type Reservation struct {
	SampleID string
	Mode     string
}

// ReservationProvider supplies reservation context for a window. Calendar
// harvesting lives behind this interface; the builder only consumes it.
type ReservationProvider interface {
	Reservation(instrumentID string, start, end time.Time) (*Reservation, error)
}

// StaticReservations is a ReservationProvider that answers every query with
// the same values. Used when no calendar integration is configured.
type StaticReservations struct {
	SampleID string
	Mode     string
}

// Reservation implements ReservationProvider.
func (s StaticReservations) Reservation(string, time.Time, time.Time) (*Reservation, error) {
	return &Reservation{SampleID: s.SampleID, Mode: s.Mode}, nil
}

// BuildResult is the outcome of one record build.
type BuildResult struct {
	// XML holds the concatenated acquisitionActivity fragments, ready
	// for embedding by an external document assembler.
	XML           []byte
	ActivityCount int
	FileCount     int
	SkippedCount  int
}

// Builder wires the file index, detector and collaborators into record
// builds.
type Builder struct {
	Index        *fileindex.Index
	Extractor    extractor.Extractor
	Previews     extractor.PreviewGenerator
	Detector     *detector.Detector
	Reservations ReservationProvider
	Logger       *log.Logger
}

// BuildRecord assembles the activity record for one instrument session
// window. Files that vanish or fail extraction are skipped and counted, not
// fatal; a window with no indexed files is an error.
func (b *Builder) BuildRecord(instr *instruments.Instrument, start, end time.Time) (*BuildResult, error) {
	logger := b.Logger
	if logger == nil {
		logger = defaultLogger
	}

	files, err := b.Index.FilesBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("selecting session files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no indexed files for %s in [%s, %s)",
			instr.ID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	logger.Printf("building record for %s: %d files", instr.ID, len(files))

	mtimes := make([]time.Time, len(files))
	for i, f := range files {
		mtimes[i] = f.Mtime
	}
	boundaries := b.Detector.FindBoundaries(mtimes)

	res, err := b.Reservations.Reservation(instr.ID, start, end)
	if err != nil {
		logger.Printf("no reservation context for %s: %v", instr.ID, err)
		res = &Reservation{}
	}
	mode := res.Mode
	if mode == "" {
		mode = instr.DefaultMode
	}

	result := &BuildResult{}
	var out bytes.Buffer
	seqno := 0
	for _, group := range groupByBoundaries(files, boundaries) {
		act := activity.New(group[0].Mtime, group[len(group)-1].Mtime, mode,
			b.Extractor, b.Previews, logger)
		for _, f := range group {
			if err := act.AddFile(f.Path); err != nil {
				logger.Printf("skipping %s: %v", f.Path, err)
			}
		}
		result.SkippedCount += len(group) - len(act.Files)
		if len(act.Files) == 0 {
			logger.Printf("activity %d has no usable files; dropping it", seqno)
			continue
		}

		act.StoreSetupParams(nil)
		act.StoreUniqueMetadata()

		frag, err := act.AsXML(seqno, res.SampleID, instr.RootPath)
		if err != nil {
			return nil, fmt.Errorf("serializing activity %d: %w", seqno, err)
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.Write(frag)

		result.FileCount += len(act.Files)
		result.ActivityCount++
		seqno++
	}

	if result.ActivityCount == 0 {
		return nil, fmt.Errorf("no usable files for %s in window", instr.ID)
	}

	result.XML = out.Bytes()
	logger.Printf("built record for %s: %d activities, %d files, %d skipped",
		instr.ID, result.ActivityCount, result.FileCount, result.SkippedCount)
	return result, nil
}

// groupByBoundaries splits the mtime-ordered file list at each boundary.
// A file belongs to the activity preceding the first boundary at or after
// its mtime.
func groupByBoundaries(files []fileindex.IndexedFile, boundaries []time.Time) [][]fileindex.IndexedFile {
	var groups [][]fileindex.IndexedFile
	var current []fileindex.IndexedFile
	bi := 0
	for _, f := range files {
		for bi < len(boundaries) && f.Mtime.After(boundaries[bi]) {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
			bi++
		}
		current = append(current, f)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
