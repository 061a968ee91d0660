package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
)

// CSVWriter wraps csv.Writer with methods for sweep output.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter creates a CSVWriter writing to w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// FormatRunHeaders returns the results CSV column names.
func FormatRunHeaders() []string {
	return []string{
		"block_size_gb", "stride_factor", "strides_x", "strides_y",
		"threads_per_worker", "slice_count",
		"artifact", "log_path", "exit_code", "duration_seconds", "started_at", "error",
	}
}

// WriteHeader writes the column names.
func (c *CSVWriter) WriteHeader() error {
	return c.w.Write(FormatRunHeaders())
}

// WriteRun writes one row for a run step.
func (c *CSVWriter) WriteRun(r StepResult) error {
	s := r.Combination.Strides()
	row := []string{
		strconv.Itoa(r.Combination.BlockSizeGB),
		strconv.Itoa(r.Combination.StrideFactor),
		strconv.Itoa(s.X),
		strconv.Itoa(s.Y),
		strconv.Itoa(r.Combination.ThreadsPerWorker),
		strconv.Itoa(r.Combination.SliceCount),
		r.Artifact,
		r.LogPath,
		strconv.Itoa(r.ExitCode),
		fmt.Sprintf("%.3f", r.Duration.Seconds()),
		r.StartedAt.UTC().Format(time.RFC3339),
		r.ErrorString(),
	}
	return c.w.Write(row)
}

// Flush flushes buffered rows and reports any write error.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// DefaultOutputPath returns the results file name for a sweep started at t.
func DefaultOutputPath(dir string, t time.Time) string {
	return filepath.Join(dir, "sweep-"+t.UTC().Format("20060102T150405Z")+".csv")
}

// WriteResultsCSV writes the run steps among results to path.
func WriteResultsCSV(fs fsutil.FileSystem, path string, results []StepResult) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	w := NewCSVWriter(f)
	if err := w.WriteHeader(); err != nil {
		f.Close()
		return err
	}
	for _, r := range results {
		if r.Phase != PhaseRun {
			continue
		}
		if err := w.WriteRun(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
