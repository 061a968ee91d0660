package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() {
		monitoring.Logf = prev
		monitoring.SetVerbose(false)
	})
}

// seedSource creates n matching SLC files plus one decoy.
func seedSource(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("t042_185684_iw2_2022%04d.h5", 101+i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t042_185684_iw3_20220101.h5"), nil, 0644))
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	restoreLogger(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunNoArgs(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage: dolphin-sweep")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "sweep")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Unknown command: sweep")
}

func TestRunHelpAndVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "generate")

	code, stdout, _ = runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "dolphin-sweep "))

	code, _, stderr := runCLI(t, "run", "-h")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "-block-sizes")
}

func TestRunFlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad list", []string{"generate", "-slices", "15,x"}, "-slices"},
		{"empty range", []string{"generate", "-threads", "32:4:1"}, "-threads"},
		{"duplicate values", []string{"generate", "-block-sizes", "1,1"}, "block_sizes_gb"},
		{"unknown flag", []string{"run", "-bogus"}, "bogus"},
		{"extra args", []string{"execute", "extra"}, "unexpected arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRunMissingConfigFile(t *testing.T) {
	code, _, stderr := runCLI(t, "generate", "-config", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "Error:")
}

func TestDryRunSweepAndHistory(t *testing.T) {
	source := seedSource(t, 27)
	workDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	code, stdout, stderr := runCLI(t, "run", "-dry-run",
		"-source", source, "-workdir", workDir, "-db", dbPath,
		"-block-sizes", "1", "-stride-factors", "2", "-threads", "4", "-slices", "15,27")
	require.Equal(t, exitOK, code, stderr)

	assert.Contains(t, stdout, "[DRY-RUN] Would execute: dolphin config")
	assert.Contains(t, stdout, "Running dolphin_config_gpu_block1GB_strides2_tpw4_nslc15.yaml")
	assert.Contains(t, stdout, "Running dolphin_config_gpu_block1GB_strides2_tpw4_nslc27.yaml")
	assert.Contains(t, stdout, "[DRY-RUN] Would execute: vmtouch -e "+source)
	assert.Contains(t, stdout, "complete: 2 artifacts, 2 runs")

	csvs, err := filepath.Glob(filepath.Join(workDir, "sweep-*.csv"))
	require.NoError(t, err)
	assert.Len(t, csvs, 1)

	code, stdout, stderr = runCLI(t, "history", "-db", dbPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "complete")
	assert.Contains(t, stdout, "sorted")

	outDir := filepath.Join(t.TempDir(), "report")
	code, stdout, stderr = runCLI(t, "report", "-db", dbPath, "-out", outDir)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "slice_count")
	assert.FileExists(t, filepath.Join(outDir, "durations.html"))
	assert.FileExists(t, filepath.Join(outDir, "durations.png"))
}

func TestGenerateInsufficientInputs(t *testing.T) {
	source := seedSource(t, 20)
	dbPath := filepath.Join(t.TempDir(), "history.db")

	code, stdout, stderr := runCLI(t, "generate", "-dry-run",
		"-source", source, "-workdir", t.TempDir(), "-db", dbPath,
		"-block-sizes", "1", "-stride-factors", "2", "-threads", "4", "-slices", "15,27")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "insufficient input files")
	assert.Contains(t, stdout, "error: 1 artifacts, 0 runs")

	code, stdout, _ = runCLI(t, "history", "-db", dbPath)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "error")
}

func TestExecuteWithNoArtifacts(t *testing.T) {
	code, _, stderr := runCLI(t, "execute", "-dry-run", "-workdir", t.TempDir(), "-source", t.TempDir())
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "no configuration artifacts found")
}

func TestHistoryUnknownSweep(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	code, stdout, _ := runCLI(t, "history", "-db", dbPath)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "No sweeps recorded")

	code, _, stderr := runCLI(t, "history", "-db", dbPath, "-sweep", "nope")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "sweep nope not found")

	code, _, stderr = runCLI(t, "report", "-db", dbPath)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "no sweeps recorded")
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	code, stdout, _ := runCLI(t, "migrate", "-db", dbPath, "up")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Current version: 2")

	code, _, _ = runCLI(t, "migrate", "-db", dbPath, "sideways")
	assert.Equal(t, exitUsage, code)
}

func TestDryRunWithFreshWorkDir(t *testing.T) {
	source := seedSource(t, 15)
	workDir := filepath.Join(t.TempDir(), "not-created-yet")

	code, stdout, stderr := runCLI(t, "run", "-dry-run", "-no-csv",
		"-source", source, "-workdir", workDir,
		"-block-sizes", "1", "-stride-factors", "2", "-threads", "4", "-slices", "15")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "complete: 1 artifacts, 1 runs")
	assert.NoDirExists(t, workDir)
}
