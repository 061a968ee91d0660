package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/dolphin-sweep/internal/db"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/sweep"
)

// Output file names written by Generate.
const (
	HTMLFile = "durations.html"
	PlotFile = "durations.png"
)

// StepLister reads recorded steps. db.SweepStore implements it.
type StepLister interface {
	ListSteps(sweepID string, phase sweep.Phase) ([]db.StepRecord, error)
}

// Result describes the files written for one sweep.
type Result struct {
	SweepID  string
	Runs     []Run
	Stats    []GroupStats
	HTMLPath string
	PlotPath string
}

// Generate loads the runs of sweepID, writes the HTML chart and PNG plot to
// outDir and prints the per-dimension summary to w.
func Generate(store StepLister, sweepID, outDir string, w io.Writer) (*Result, error) {
	steps, err := store.ListSteps(sweepID, sweep.PhaseRun)
	if err != nil {
		return nil, err
	}
	runs := RunsFromSteps(steps)
	if len(runs) == 0 {
		return nil, fmt.Errorf("sweep %s: %w", sweepID, ErrNoRuns)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	res := &Result{
		SweepID:  sweepID,
		Runs:     runs,
		Stats:    Summarize(runs),
		HTMLPath: filepath.Join(outDir, HTMLFile),
		PlotPath: filepath.Join(outDir, PlotFile),
	}

	f, err := os.Create(res.HTMLPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", res.HTMLPath, err)
	}
	if err := RenderHTML(f, sweepID, runs, res.Stats); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to render %s: %w", res.HTMLPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	if err := SavePlot(res.PlotPath, sweepID, runs); err != nil {
		return nil, err
	}
	monitoring.Logf("[report] wrote %s and %s (%d runs)", res.HTMLPath, res.PlotPath, len(runs))

	if err := WriteSummary(w, res.Stats); err != nil {
		return nil, err
	}
	return res, nil
}
