package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/dolphin-sweep/internal/command"
	"github.com/banshee-data/dolphin-sweep/internal/config"
	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/timeutil"
)

// SweepStatus represents the state of a recorded sweep.
type SweepStatus string

const (
	SweepStatusRunning  SweepStatus = "running"
	SweepStatusComplete SweepStatus = "complete"
	SweepStatusError    SweepStatus = "error"
)

// Mode selects which phases a sweep runs.
type Mode string

const (
	// ModeFull generates every artifact, then runs them.
	ModeFull Mode = "run"
	// ModeGenerate only generates artifacts.
	ModeGenerate Mode = "generate"
	// ModeExecute runs artifacts discovered in the working directory.
	ModeExecute Mode = "execute"
)

// SweepRecord is the persisted header of one sweep.
type SweepRecord struct {
	SweepID     string          `json:"sweep_id"`
	Mode        Mode            `json:"mode"`
	Status      SweepStatus     `json:"status"`
	Config      json.RawMessage `json:"config"`
	InputOrder  string          `json:"input_order"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Persister records sweep history. Failures are logged and do not stop a sweep.
type Persister interface {
	CreateSweep(rec SweepRecord) error
	RecordStep(sweepID string, res StepResult) error
	CompleteSweep(sweepID string, status SweepStatus, errMsg string, completedAt time.Time) error
}

// Options configures a Runner. Zero fields get production defaults.
type Options struct {
	Commands command.CommandBuilder
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
	// Progress receives the per-artifact progress markers. Defaults to stdout.
	Progress  io.Writer
	Persister Persister
	DryRun    bool
	// OutputPath is the results CSV; empty means sweep-<timestamp>.csv in the working directory.
	OutputPath string
	// DisableCSV skips the results CSV.
	DisableCSV bool
}

// Summary describes a finished sweep.
type Summary struct {
	SweepID     string
	Mode        Mode
	Status      SweepStatus
	InputOrder  string
	StartedAt   time.Time
	CompletedAt time.Time
	Artifacts   []Artifact
	Results     []StepResult
	CSVPath     string
	Err         error
}

// RunResults returns the results of run steps only.
func (s *Summary) RunResults() []StepResult {
	var out []StepResult
	for _, r := range s.Results {
		if r.Phase == PhaseRun {
			out = append(out, r)
		}
	}
	return out
}

// Runner orchestrates the generate and run phases of a sweep.
type Runner struct {
	cfg      *config.SweepConfig
	plan     Plan
	opts     Options
	workDir  string
	resolver *InputResolver
	gen      *Generator
	exec     *Executor
	newID    func() string
}

// NewRunner validates cfg and prepares a Runner. The working and source
// directories are made absolute so that commands run inside the working
// directory see the same paths.
func NewRunner(cfg *config.SweepConfig, opts Options) (*Runner, error) {
	if cfg == nil {
		cfg = config.EmptySweepConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = cfg.Resolved()

	workDir, err := filepath.Abs(cfg.GetWorkDir())
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}
	sourceDir, err := filepath.Abs(cfg.GetSourceDir())
	if err != nil {
		return nil, fmt.Errorf("resolving source dir: %w", err)
	}

	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Progress == nil {
		opts.Progress = os.Stdout
	}
	if opts.Commands == nil {
		if opts.DryRun {
			opts.Commands = &command.DryRunCommandBuilder{Out: opts.Progress}
		} else {
			b := command.NewRealCommandBuilder(workDir)
			b.SetLogger(monitoring.DebugLogger{})
			opts.Commands = b
		}
	}

	r := &Runner{
		cfg:     cfg,
		plan:    PlanFromConfig(cfg),
		opts:    opts,
		workDir: workDir,
		newID:   uuid.NewString,
	}
	r.resolver = &InputResolver{
		FS:      opts.FS,
		Dir:     sourceDir,
		Pattern: cfg.GetInputGlob(),
		Order:   cfg.GetInputOrder(),
	}
	r.gen = &Generator{
		Tool:         cfg.GetToolBinary(),
		Threshold:    cfg.GetAmplitudeDispersionThreshold(),
		SingleUpdate: cfg.GetSingleUpdate(),
		WorkDir:      workDir,
		Verify:       cfg.GetVerifyArtifacts(),
		DryRun:       opts.DryRun,
		Commands:     opts.Commands,
		FS:           opts.FS,
		Clock:        opts.Clock,
	}
	r.exec = &Executor{
		Tool:         cfg.GetToolBinary(),
		SourceDir:    sourceDir,
		EvictCommand: cfg.GetEvictCommand(),
		ScratchPaths: cfg.GetScratchPaths(),
		WorkDir:      workDir,
		DryRun:       opts.DryRun,
		Commands:     opts.Commands,
		FS:           opts.FS,
		Clock:        opts.Clock,
		Progress:     opts.Progress,
	}
	return r, nil
}

// Plan returns the enumerations the runner sweeps.
func (r *Runner) Plan() Plan {
	return r.plan
}

// WorkDir returns the absolute working directory.
func (r *Runner) WorkDir() string {
	return r.workDir
}

// Sweep runs the phases selected by mode and stops at the first failing step.
// The returned Summary is never nil; its Err matches the returned error.
func (r *Runner) Sweep(ctx context.Context, mode Mode) (*Summary, error) {
	s := &Summary{
		SweepID:    r.newID(),
		Mode:       mode,
		Status:     SweepStatusRunning,
		InputOrder: r.cfg.GetInputOrder(),
		StartedAt:  r.opts.Clock.Now(),
	}
	r.createRecord(s)

	monitoring.Logf("[sweep] Starting sweep %s (%s): %d combinations, input order %s",
		s.SweepID, mode, r.plan.Size(), s.InputOrder)
	if s.InputOrder == config.InputOrderListing {
		monitoring.Logf("[sweep] WARNING: listing order depends on the filesystem and is not reproducible")
	}

	err := r.sweep(ctx, mode, s)

	s.CompletedAt = r.opts.Clock.Now()
	s.Err = err
	s.Status = SweepStatusComplete
	if err != nil {
		s.Status = SweepStatusError
		monitoring.Logf("[sweep] ERROR: sweep %s stopped: %v", s.SweepID, err)
	} else {
		monitoring.Logf("[sweep] Sweep complete: %d artifacts, %d runs in %s",
			len(s.Artifacts), len(s.RunResults()), FormatElapsed(s.CompletedAt.Sub(s.StartedAt)))
	}
	if r.opts.Persister != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		if perr := r.opts.Persister.CompleteSweep(s.SweepID, s.Status, errMsg, s.CompletedAt); perr != nil {
			monitoring.Logf("[sweep] WARNING: Failed to record sweep completion: %v", perr)
		}
	}
	return s, err
}

func (r *Runner) sweep(ctx context.Context, mode Mode, s *Summary) error {
	var err error
	switch mode {
	case ModeGenerate:
		s.Artifacts, err = r.generatePhase(ctx, s)
		return err
	case ModeExecute:
		if s.Artifacts, err = DiscoverArtifacts(r.opts.FS, r.workDir, r.cfg.GetArtifactGlob()); err != nil {
			return err
		}
	case ModeFull:
		if s.Artifacts, err = r.generatePhase(ctx, s); err != nil {
			return err
		}
		if r.cfg.GetDiscoverExisting() {
			if s.Artifacts, err = DiscoverArtifacts(r.opts.FS, r.workDir, r.cfg.GetArtifactGlob()); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown sweep mode %q", mode)
	}

	err = r.runPhase(ctx, s)
	if !r.opts.DisableCSV && len(s.RunResults()) > 0 {
		path := r.opts.OutputPath
		if path == "" {
			path = DefaultOutputPath(r.workDir, s.StartedAt)
		}
		if werr := WriteResultsCSV(r.opts.FS, path, s.Results); werr != nil {
			monitoring.Logf("[sweep] WARNING: Failed to write results: %v", werr)
		} else {
			s.CSVPath = path
			monitoring.Logf("[sweep] Results written to %s", path)
		}
	}
	return err
}

// generatePhase produces one artifact per combination, in plan order.
func (r *Runner) generatePhase(ctx context.Context, s *Summary) ([]Artifact, error) {
	combos, err := r.plan.Enumerate()
	if err != nil {
		return nil, err
	}
	matches, err := r.resolver.Matches()
	if err != nil {
		return nil, &StepError{Phase: PhaseGenerate, Err: err}
	}
	monitoring.Logf("[sweep] Found %d input files matching %s in %s",
		len(matches), r.resolver.Pattern, r.resolver.Dir)

	artifacts := make([]Artifact, 0, len(combos))
	for i, c := range combos {
		select {
		case <-ctx.Done():
			return artifacts, fmt.Errorf("sweep interrupted before combination %d/%d: %w", i+1, len(combos), ctx.Err())
		default:
		}

		monitoring.Logf("[sweep] Combination %d/%d: %s", i+1, len(combos), c)
		inputs, err := SelectInputs(matches, c.SliceCount)
		if err != nil {
			res := StepResult{Phase: PhaseGenerate, Combination: c, StartedAt: r.opts.Clock.Now(), ExitCode: -1, Err: err}
			r.record(s, res)
			return artifacts, stepError(res)
		}

		artifact, res, err := r.gen.Generate(ctx, c, inputs)
		r.record(s, res)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return artifacts, fmt.Errorf("sweep interrupted at combination %d/%d: %w", i+1, len(combos), ctxErr)
			}
			return artifacts, stepError(res)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// runPhase executes every artifact in s.Artifacts in order.
func (r *Runner) runPhase(ctx context.Context, s *Summary) error {
	for i, a := range s.Artifacts {
		select {
		case <-ctx.Done():
			return fmt.Errorf("sweep interrupted before artifact %d/%d: %w", i+1, len(s.Artifacts), ctx.Err())
		default:
		}

		monitoring.Logf("[sweep] Artifact %d/%d: %s", i+1, len(s.Artifacts), a.Name())
		results, err := r.exec.Execute(ctx, a)
		for _, res := range results {
			r.record(s, res)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("sweep interrupted at %s: %w", a.Name(), ctxErr)
			}
			return stepError(results[len(results)-1])
		}
	}
	return nil
}

func (r *Runner) record(s *Summary, res StepResult) {
	s.Results = append(s.Results, res)
	if r.opts.Persister == nil {
		return
	}
	if err := r.opts.Persister.RecordStep(s.SweepID, res); err != nil {
		monitoring.Logf("[sweep] WARNING: Failed to record %s step: %v", res.Phase, err)
	}
}

func (r *Runner) createRecord(s *Summary) {
	if r.opts.Persister == nil {
		return
	}
	cfgJSON, err := json.Marshal(r.cfg)
	if err != nil {
		monitoring.Logf("[sweep] WARNING: Failed to encode config: %v", err)
		cfgJSON = []byte("{}")
	}
	rec := SweepRecord{
		SweepID:    s.SweepID,
		Mode:       s.Mode,
		Status:     SweepStatusRunning,
		Config:     cfgJSON,
		InputOrder: s.InputOrder,
		StartedAt:  s.StartedAt,
	}
	if err := r.opts.Persister.CreateSweep(rec); err != nil {
		monitoring.Logf("[sweep] WARNING: Failed to record sweep start: %v", err)
	}
}
