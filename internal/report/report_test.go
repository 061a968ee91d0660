package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dolphin-sweep/internal/db"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/sweep"
)

func combo(b, s, t, n int) sweep.Combination {
	return sweep.Combination{BlockSizeGB: b, StrideFactor: s, ThreadsPerWorker: t, SliceCount: n}
}

func runStep(c sweep.Combination, d time.Duration) db.StepRecord {
	return db.StepRecord{Phase: sweep.PhaseRun, Combination: c, Duration: d}
}

func sampleSteps() []db.StepRecord {
	return []db.StepRecord{
		runStep(combo(1, 2, 4, 15), 60*time.Second),
		runStep(combo(1, 2, 4, 27), 100*time.Second),
		runStep(combo(4, 2, 4, 15), 40*time.Second),
		runStep(combo(4, 2, 4, 27), 80*time.Second),
		{Phase: sweep.PhaseRun, Combination: combo(4, 3, 4, 27), Duration: time.Second, Error: "exit status 1"},
		{Phase: sweep.PhaseEvict, Combination: combo(4, 2, 4, 27), Duration: time.Second},
		runStep(sweep.Combination{}, 5*time.Second),
	}
}

func TestRunsFromSteps(t *testing.T) {
	runs := RunsFromSteps(sampleSteps())
	require.Len(t, runs, 4)
	assert.Equal(t, "b1 s2 t4 n15", runs[0].Label)
	assert.Equal(t, 100.0, runs[1].Seconds)
	assert.Equal(t, combo(4, 2, 4, 27), runs[3].Combination)
}

func TestSummarize(t *testing.T) {
	stats := Summarize(RunsFromSteps(sampleSteps()))

	byKey := make(map[string]GroupStats)
	for _, g := range stats {
		byKey[string(g.Dimension)+"="+strconv.Itoa(g.Value)] = g
	}

	block1 := byKey["block_size_gb=1"]
	assert.Equal(t, 2, block1.Runs)
	assert.InDelta(t, 80.0, block1.Mean, 1e-9)
	// Sample standard deviation of {60, 100}.
	assert.InDelta(t, 28.2843, block1.StdDev, 1e-3)
	assert.Equal(t, 60.0, block1.Min)
	assert.Equal(t, 100.0, block1.Max)

	slices27 := byKey["slice_count=27"]
	assert.InDelta(t, 90.0, slices27.Mean, 1e-9)

	stride := byKey["stride_factor=2"]
	assert.Equal(t, 4, stride.Runs)
	assert.InDelta(t, 70.0, stride.Mean, 1e-9)

	var order []string
	for _, g := range stats {
		order = append(order, string(g.Dimension)+"="+strconv.Itoa(g.Value))
	}
	want := []string{
		"block_size_gb=1", "block_size_gb=4",
		"stride_factor=2",
		"threads_per_worker=4",
		"slice_count=15", "slice_count=27",
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("group order mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeSingleRun(t *testing.T) {
	stats := Summarize([]Run{{Combination: combo(1, 2, 4, 15), Seconds: 42}})
	require.Len(t, stats, 4)
	for _, g := range stats {
		assert.Equal(t, 42.0, g.Mean)
		assert.Equal(t, 0.0, g.StdDev)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, Summarize(RunsFromSteps(sampleSteps()))))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "mean_s")
	assert.Contains(t, lines[1], "block_size_gb")
	assert.Contains(t, lines[1], "80.0")
}

func TestRenderHTML(t *testing.T) {
	runs := RunsFromSteps(sampleSteps())
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, "sweep-1", runs, Summarize(runs)))
	html := buf.String()
	assert.Contains(t, html, "Run duration")
	assert.Contains(t, html, "sweep=sweep-1 runs=4")
	assert.Contains(t, html, "Mean duration by threads_per_worker")

	assert.ErrorIs(t, RenderHTML(&buf, "sweep-1", nil, nil), ErrNoRuns)
}

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durations.png")
	require.NoError(t, SavePlot(path, "sweep-1", RunsFromSteps(sampleSteps())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	assert.ErrorIs(t, SavePlot(path, "sweep-1", nil), ErrNoRuns)
}

type fakeLister struct {
	steps []db.StepRecord
	err   error
	phase sweep.Phase
}

func (f *fakeLister) ListSteps(sweepID string, phase sweep.Phase) ([]db.StepRecord, error) {
	f.phase = phase
	return f.steps, f.err
}

func TestGenerate(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	defer func() { monitoring.Logf = prev }()

	lister := &fakeLister{steps: sampleSteps()}
	outDir := filepath.Join(t.TempDir(), "report")
	var summary bytes.Buffer

	res, err := Generate(lister, "sweep-1", outDir, &summary)
	require.NoError(t, err)
	assert.Equal(t, sweep.PhaseRun, lister.phase)
	assert.Len(t, res.Runs, 4)
	assert.FileExists(t, filepath.Join(outDir, HTMLFile))
	assert.FileExists(t, filepath.Join(outDir, PlotFile))
	assert.Contains(t, summary.String(), "slice_count")
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(&fakeLister{}, "empty", t.TempDir(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoRuns)

	boom := errors.New("db closed")
	_, err = Generate(&fakeLister{err: boom}, "x", t.TempDir(), &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
}

func TestGenerateFromStore(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	defer func() { monitoring.Logf = prev }()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "sweeps.db"))
	require.NoError(t, err)
	defer database.Close()
	store := db.NewSweepStore(database)

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSweep(sweep.SweepRecord{SweepID: "s1", Mode: sweep.ModeFull, Status: sweep.SweepStatusRunning, StartedAt: start}))
	for i, c := range []sweep.Combination{combo(1, 2, 4, 15), combo(1, 2, 4, 27)} {
		require.NoError(t, store.RecordStep("s1", sweep.StepResult{
			Phase: sweep.PhaseRun, Combination: c, StartedAt: start, Duration: time.Duration(30*(i+1)) * time.Second,
		}))
	}

	var summary bytes.Buffer
	res, err := Generate(store, "s1", t.TempDir(), &summary)
	require.NoError(t, err)
	assert.Len(t, res.Runs, 2)
	assert.InDelta(t, 45.0, res.Stats[0].Mean, 1e-9)
}
