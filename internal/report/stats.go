// Package report summarises the run durations of a recorded sweep.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dolphin-sweep/internal/db"
	"github.com/banshee-data/dolphin-sweep/internal/sweep"
)

// ErrNoRuns is returned when a sweep has no successful runs to report on.
var ErrNoRuns = errors.New("no successful runs")

// Dimension is one axis of the parameter sweep.
type Dimension string

const (
	DimensionBlockSize    Dimension = "block_size_gb"
	DimensionStrideFactor Dimension = "stride_factor"
	DimensionThreads      Dimension = "threads_per_worker"
	DimensionSliceCount   Dimension = "slice_count"
)

// Dimensions lists the sweep axes in enumeration order.
var Dimensions = []Dimension{DimensionBlockSize, DimensionStrideFactor, DimensionThreads, DimensionSliceCount}

// Value returns the combination's value along d.
func (d Dimension) Value(c sweep.Combination) int {
	switch d {
	case DimensionBlockSize:
		return c.BlockSizeGB
	case DimensionStrideFactor:
		return c.StrideFactor
	case DimensionThreads:
		return c.ThreadsPerWorker
	case DimensionSliceCount:
		return c.SliceCount
	}
	return 0
}

// Run is one successful run of a sweep.
type Run struct {
	Label       string
	Combination sweep.Combination
	Seconds     float64
}

// GroupStats holds duration statistics for all runs sharing one value of a
// dimension.
type GroupStats struct {
	Dimension Dimension
	Value     int
	Runs      int
	Mean      float64
	StdDev    float64
	Min       float64
	Max       float64
}

// RunsFromSteps keeps the successful run steps that map to a combination.
// Artifacts whose names fall outside the naming template are skipped.
func RunsFromSteps(steps []db.StepRecord) []Run {
	var runs []Run
	for _, s := range steps {
		if s.Phase != sweep.PhaseRun || s.Error != "" || s.Combination.IsZero() {
			continue
		}
		runs = append(runs, Run{
			Label:       runLabel(s.Combination),
			Combination: s.Combination,
			Seconds:     s.Duration.Seconds(),
		})
	}
	return runs
}

func runLabel(c sweep.Combination) string {
	return fmt.Sprintf("b%d s%d t%d n%d", c.BlockSizeGB, c.StrideFactor, c.ThreadsPerWorker, c.SliceCount)
}

// Summarize groups runs by each dimension value. Groups are ordered by
// dimension, then by ascending value.
func Summarize(runs []Run) []GroupStats {
	var out []GroupStats
	for _, d := range Dimensions {
		groups := make(map[int][]float64)
		for _, r := range runs {
			v := d.Value(r.Combination)
			groups[v] = append(groups[v], r.Seconds)
		}
		values := make([]int, 0, len(groups))
		for v := range groups {
			values = append(values, v)
		}
		sort.Ints(values)
		for _, v := range values {
			out = append(out, groupStats(d, v, groups[v]))
		}
	}
	return out
}

func groupStats(d Dimension, value int, seconds []float64) GroupStats {
	g := GroupStats{Dimension: d, Value: value, Runs: len(seconds), Min: math.Inf(1), Max: math.Inf(-1)}
	if len(seconds) == 1 {
		g.Mean = seconds[0]
	} else {
		g.Mean, g.StdDev = stat.MeanStdDev(seconds, nil)
	}
	for _, s := range seconds {
		g.Min = math.Min(g.Min, s)
		g.Max = math.Max(g.Max, s)
	}
	return g
}

// WriteSummary prints one line per group.
func WriteSummary(w io.Writer, stats []GroupStats) error {
	if _, err := fmt.Fprintf(w, "%-20s %6s %5s %10s %10s %10s %10s\n",
		"dimension", "value", "runs", "mean_s", "stddev_s", "min_s", "max_s"); err != nil {
		return err
	}
	for _, g := range stats {
		if _, err := fmt.Fprintf(w, "%-20s %6d %5d %10.1f %10.1f %10.1f %10.1f\n",
			g.Dimension, g.Value, g.Runs, g.Mean, g.StdDev, g.Min, g.Max); err != nil {
			return err
		}
	}
	return nil
}
