package sweep

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/dolphin-sweep/internal/command"
	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/timeutil"
)

const testSourceDir = "/data/slcs"

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// quietLogs mutes the package logger for the duration of the test.
func quietLogs(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })
}

// seedInputs writes n matching SLC files in reverse name order, plus decoys
// that do not match the input pattern. It returns the matches sorted.
func seedInputs(fs *fsutil.MemoryFileSystem, n int) []string {
	sorted := make([]string, n)
	for i := 0; i < n; i++ {
		sorted[i] = filepath.Join(testSourceDir, fmt.Sprintf("t042_185684_iw2_2022%04d.h5", 101+i))
	}
	for i := n - 1; i >= 0; i-- {
		_ = fs.WriteFile(sorted[i], []byte("slc"), 0644)
	}
	_ = fs.WriteFile(filepath.Join(testSourceDir, "t042_185684_iw1_20220101.h5"), []byte("decoy"), 0644)
	_ = fs.WriteFile(filepath.Join(testSourceDir, "t042_185684_iw2_20220101.tif"), []byte("decoy"), 0644)
	return sorted
}

// fakeDolphin simulates the processing tool and cache eviction utility on a
// MemoryFileSystem. Config generation writes a YAML artifact derived from its
// arguments; runs write output and leave scratch state behind.
type fakeDolphin struct {
	fs      *fsutil.MemoryFileSystem
	workDir string

	mu sync.Mutex
	// runFailures maps an artifact base name to the exit code its run returns.
	runFailures map[string]int
	// configFailures maps an artifact base name to the exit code its generation returns.
	configFailures map[string]int
	// skipWrite makes config generation succeed without writing the artifact.
	skipWrite bool
	// dirtyScratch records runs that started while scratch state was present.
	dirtyScratch []string
	// runOrder records artifact base names in the order they ran.
	runOrder []string
	// inputs records the --slc-files list per generated artifact.
	inputs map[string][]string
}

func newFakeDolphin(fs *fsutil.MemoryFileSystem, workDir string) *fakeDolphin {
	return &fakeDolphin{
		fs:             fs,
		workDir:        workDir,
		runFailures:    map[string]int{},
		configFailures: map[string]int{},
		inputs:         map[string][]string{},
	}
}

func (f *fakeDolphin) builder() *command.MockCommandBuilder {
	b := command.NewMockCommandBuilder()
	b.ExecutorFactory = f.executor
	return b
}

func (f *fakeDolphin) executor(name string, args []string) *command.MockCommandExecutor {
	if name != "dolphin" || len(args) == 0 {
		return &command.MockCommandExecutor{}
	}
	switch args[0] {
	case "config":
		out := argAfter(args, "-o")
		base := filepath.Base(out)
		if code, ok := f.configFailures[base]; ok {
			return &command.MockCommandExecutor{
				Output: []byte("error: invalid configuration\n"),
				Err:    &command.ExitError{Code: code},
			}
		}
		return &command.MockCommandExecutor{OnRun: func() error {
			f.mu.Lock()
			f.inputs[base] = slcFiles(args)
			f.mu.Unlock()
			if f.skipWrite {
				return nil
			}
			return f.fs.WriteFile(out, renderConfig(args), 0644)
		}}
	case "run":
		base := filepath.Base(args[1])
		exec := &command.MockCommandExecutor{
			Output: []byte("processing " + base + "\n"),
			OnRun: func() error {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.runOrder = append(f.runOrder, base)
				if f.fs.Exists(filepath.Join(f.workDir, "scratch/linked_phase")) ||
					f.fs.Exists(filepath.Join(f.workDir, "scratch/slc_stack.vrt")) {
					f.dirtyScratch = append(f.dirtyScratch, base)
				}
				_ = f.fs.WriteFile(filepath.Join(f.workDir, "scratch/linked_phase/20220101_20220113.int.tif"), []byte("int"), 0644)
				_ = f.fs.WriteFile(filepath.Join(f.workDir, "scratch/slc_stack.vrt"), []byte("<VRTDataset/>"), 0644)
				return nil
			},
		}
		if code, ok := f.runFailures[base]; ok {
			exec.Err = &command.ExitError{Code: code}
		}
		return exec
	}
	return &command.MockCommandExecutor{}
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func slcFiles(args []string) []string {
	var out []string
	for i, a := range args {
		if a != "--slc-files" {
			continue
		}
		for _, v := range args[i+1:] {
			if len(v) > 1 && v[0] == '-' {
				break
			}
			out = append(out, v)
		}
	}
	return out
}

// renderConfig builds the workflow YAML the real tool would write.
func renderConfig(args []string) []byte {
	atoi := func(s string) int {
		v, _ := strconv.Atoi(s)
		return v
	}
	blockSize, _ := strconv.ParseFloat(argAfter(args, "--block-size-gb"), 64)
	var strides Strides
	for i, a := range args {
		if a == "--strides" && i+2 < len(args) {
			strides = Strides{X: atoi(args[i+1]), Y: atoi(args[i+2])}
		}
	}
	doc := map[string]any{
		"cslc_file_list": slcFiles(args),
		"worker_settings": map[string]any{
			"block_size_gb":      blockSize,
			"threads_per_worker": atoi(argAfter(args, "--threads-per-worker")),
			"gpu_enabled":        true,
		},
		"output_options": map[string]any{
			"strides": strides,
		},
		"work_directory": "scratch",
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// testEnv bundles the fakes a Runner is built from.
type testEnv struct {
	fs      *fsutil.MemoryFileSystem
	tool    *fakeDolphin
	cmds    *command.MockCommandBuilder
	clock   *timeutil.MockClock
	workDir string
}

func newTestEnv(t *testing.T, inputs int) *testEnv {
	t.Helper()
	quietLogs(t)
	fs := fsutil.NewMemoryFileSystem()
	workDir := t.TempDir()
	_ = fs.MkdirAll(workDir, 0755)
	seedInputs(fs, inputs)
	tool := newFakeDolphin(fs, workDir)
	clock := timeutil.NewMockClock(testEpoch)
	clock.SetStep(time.Second)
	return &testEnv{fs: fs, tool: tool, cmds: tool.builder(), clock: clock, workDir: workDir}
}
