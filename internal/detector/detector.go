// Package detector finds the boundaries between acquisition activities in a
// set of file modification times.
//
// The definition of a "large" gap between files depends on the session: if
// many files are saved at once, even short pauses matter, while a session
// saving a file every 30 seconds tolerates much longer gaps. To stay
// sensitive to the data itself rather than a fixed threshold, the detector
// fits a Gaussian kernel density estimate to the timestamps, picking the
// bandwidth by a grid search scored with leave-one-out cross-validation, and
// reports the local minima of the estimated density as activity boundaries.
package detector

import (
	"log"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"
)

// DefaultGridSize is the number of candidate bandwidths evaluated during the
// cross-validation grid search.
const DefaultGridSize = 35

// DefaultDensityMultiplier controls the resolution of the density evaluation
// grid: the grid has multiplier * (number of distinct timestamps) points.
const DefaultDensityMultiplier = 10

var defaultLogger = log.New(os.Stdout, "[detector] ", log.LstdFlags)

// Detector clusters file modification times into activity windows.
// The zero value is usable; fields override the defaults.
type Detector struct {
	// GridSize is the number of bandwidth candidates (default 35).
	GridSize int
	// DensityMultiplier scales the density evaluation grid (default 10).
	DensityMultiplier int
	// Workers bounds the goroutines used for the bandwidth grid search.
	// Zero means runtime.NumCPU(). The search result is identical to a
	// sequential evaluation regardless of worker count.
	Workers int
	// Logger receives progress lines. Nil means the package default.
	Logger *log.Logger
}

// FindBoundaries returns the timestamps that separate distinct acquisition
// activities within mtimes. A single distinct timestamp is returned as the
// sole boundary. An empty result means no internal gaps were found and the
// whole set belongs to one activity.
func (d *Detector) FindBoundaries(mtimes []time.Time) []time.Time {
	logger := d.Logger
	if logger == nil {
		logger = defaultLogger
	}

	if len(mtimes) == 0 {
		return nil
	}

	start := time.Now()
	logger.Printf("clustering %d file mtimes", len(mtimes))

	// Work in seconds relative to the earliest timestamp so the kernel
	// arithmetic keeps full float64 precision on epoch-scale values.
	origin := mtimes[0]
	for _, t := range mtimes {
		if t.Before(origin) {
			origin = t
		}
	}
	xs := make([]float64, len(mtimes))
	for i, t := range mtimes {
		xs[i] = t.Sub(origin).Seconds()
	}
	sort.Float64s(xs)
	xs = dedupe(xs)

	if len(xs) == 1 {
		// Nothing to cluster; the lone mtime is the boundary.
		return []time.Time{origin.Add(secondsDuration(xs[0]))}
	}

	gaps := make([]float64, len(xs)-1)
	minGap, maxGap := xs[1]-xs[0], xs[1]-xs[0]
	for i := 1; i < len(xs); i++ {
		g := xs[i] - xs[i-1]
		gaps[i-1] = g
		if g < minGap {
			minGap = g
		}
		if g > maxGap {
			maxGap = g
		}
	}

	gridSize := d.GridSize
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	bandwidths := logSpace(minGap, maxGap, gridSize)

	logger.Printf("bandwidth grid search over %d candidates", len(bandwidths))
	bw := d.selectBandwidth(xs, bandwidths)
	logger.Printf("using bandwidth of %.3f seconds for KDE", bw)

	multiplier := d.DensityMultiplier
	if multiplier <= 0 {
		multiplier = DefaultDensityMultiplier
	}
	grid := linSpace(xs[0], xs[len(xs)-1], len(xs)*multiplier)
	density := make([]float64, len(grid))
	for i, g := range grid {
		density[i] = gaussianLogDensity(xs, bw, g, -1)
	}

	var boundaries []time.Time
	for _, idx := range localMinima(density) {
		boundaries = append(boundaries, origin.Add(secondsDuration(grid[idx])))
	}

	logger.Printf("detected %d activities in %.2f seconds",
		len(boundaries)+1, time.Since(start).Seconds())
	return boundaries
}

// selectBandwidth scores every candidate bandwidth by leave-one-out
// log-likelihood and returns the best one. Candidates are scored
// independently across workers; ties keep the earliest candidate so the
// selection is deterministic.
func (d *Detector) selectBandwidth(xs, candidates []float64) float64 {
	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	scores := make([]float64, len(candidates))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i] = looLogLikelihood(xs, candidates[i])
			}
		}()
	}
	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return candidates[best]
}

// dedupe removes exact duplicates from a sorted slice in place. Duplicate
// mtimes would produce zero-width gaps and degenerate density estimates.
func dedupe(sorted []float64) []float64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
