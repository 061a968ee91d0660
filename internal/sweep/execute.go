package sweep

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/dolphin-sweep/internal/command"
	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/security"
	"github.com/banshee-data/dolphin-sweep/internal/timeutil"
)

// Executor runs the tool against one artifact at a time.
type Executor struct {
	Tool string
	// SourceDir is evicted from the page cache before every run.
	SourceDir    string
	EvictCommand []string
	// ScratchPaths are removed before every run; relative to WorkDir.
	ScratchPaths []string
	WorkDir      string
	// DryRun skips scratch deletion and discards run output.
	DryRun bool

	Commands command.CommandBuilder
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
	// Progress receives one "Running <artifact>" line per artifact.
	Progress io.Writer
}

// Execute runs the per-artifact pipeline: progress marker, scratch cleanup,
// cache eviction, then the run itself. It stops at the first failing step
// and returns the results of the steps that ran.
func (e *Executor) Execute(ctx context.Context, a Artifact) ([]StepResult, error) {
	if e.Progress != nil {
		fmt.Fprintf(e.Progress, "Running %s\n", a.Name())
	}

	steps := []func(context.Context, Artifact) StepResult{e.Cleanup, e.Evict, e.Run}
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := step(ctx, a)
		results = append(results, res)
		if res.Err != nil {
			return results, res.Err
		}
	}
	return results, nil
}

// Cleanup removes the scratch paths left by a previous run. Absent paths are
// not an error. Each path must resolve inside WorkDir.
func (e *Executor) Cleanup(ctx context.Context, a Artifact) StepResult {
	res := e.start(PhaseCleanup, a)
	defer e.finish(&res)

	for _, p := range e.ScratchPaths {
		full, err := security.ResolveWithin(e.WorkDir, p)
		if err != nil {
			res.Err = fmt.Errorf("scratch path %q: %w", p, err)
			return res
		}
		if e.DryRun {
			monitoring.Logf("[DRY-RUN] Would remove %s", full)
			continue
		}
		if err := e.FS.RemoveAll(full); err != nil {
			res.Err = fmt.Errorf("removing %s: %w", full, err)
			return res
		}
		monitoring.Debugf("[sweep] removed %s", full)
	}
	return res
}

// Evict drops SourceDir from the OS page cache so the run reads inputs cold.
func (e *Executor) Evict(ctx context.Context, a Artifact) StepResult {
	res := e.start(PhaseEvict, a)
	defer e.finish(&res)

	if len(e.EvictCommand) == 0 {
		res.Err = fmt.Errorf("no eviction command configured")
		return res
	}
	args := append(append([]string(nil), e.EvictCommand[1:]...), e.SourceDir)
	res.Command = command.FormatCommandLine(e.EvictCommand[0], args)

	out, err := e.Commands.BuildCommand(ctx, e.EvictCommand[0], args...).Run()
	res.ExitCode = command.ExitCode(err)
	if err != nil {
		if len(out) > 0 {
			monitoring.Logf("[sweep] %s output:\n%s", e.EvictCommand[0], out)
		}
		res.Err = fmt.Errorf("evicting %s: %w", e.SourceDir, err)
	}
	return res
}

// Run invokes the tool's run subcommand on the artifact with stdout and
// stderr captured in the artifact's log file.
func (e *Executor) Run(ctx context.Context, a Artifact) StepResult {
	res := e.start(PhaseRun, a)
	res.LogPath = a.LogPath()
	args := []string{"run", a.Path}
	res.Command = command.FormatCommandLine(e.Tool, args)
	cmd := e.Commands.BuildCommand(ctx, e.Tool, args...)

	if e.DryRun {
		res.Err = cmd.RunTo(io.Discard)
		e.finish(&res)
		return res
	}

	logFile, err := e.FS.Create(res.LogPath)
	if err != nil {
		res.Err = fmt.Errorf("creating log %s: %w", res.LogPath, err)
		e.finish(&res)
		return res
	}
	runErr := cmd.RunTo(logFile)
	closeErr := logFile.Close()
	e.finish(&res)

	res.ExitCode = command.ExitCode(runErr)
	switch {
	case runErr != nil:
		res.Err = fmt.Errorf("%s run exited with status %d (see %s): %w", e.Tool, res.ExitCode, res.LogPath, runErr)
	case closeErr != nil:
		res.Err = fmt.Errorf("closing log %s: %w", res.LogPath, closeErr)
	}

	var size uint64
	if info, err := e.FS.Stat(res.LogPath); err == nil && info.Size() > 0 {
		size = uint64(info.Size())
	}
	status := "finished"
	if res.Err != nil {
		status = "failed"
	}
	monitoring.Logf("[sweep] %s %s in %s, log %s (%s)",
		a.Name(), status, FormatElapsed(res.Duration), res.LogPath, humanize.Bytes(size))
	return res
}

func (e *Executor) start(phase Phase, a Artifact) StepResult {
	return StepResult{
		Phase:       phase,
		Combination: a.Combination,
		Artifact:    a.Path,
		StartedAt:   e.Clock.Now(),
	}
}

func (e *Executor) finish(res *StepResult) {
	res.Duration = e.Clock.Since(res.StartedAt)
}

// FormatElapsed renders d as minutes and seconds, e.g. "3m07s".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%dm%02ds", total/60, total%60)
}
