package sweep

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/dolphin-sweep/internal/command"
	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/timeutil"
)

// Generator produces configuration artifacts with the tool's config subcommand.
type Generator struct {
	Tool         string
	Threshold    float64
	SingleUpdate bool
	// WorkDir receives the artifacts.
	WorkDir string
	// Verify decodes each artifact and checks it against its combination.
	Verify bool
	// DryRun skips the existence and content checks.
	DryRun bool

	Commands command.CommandBuilder
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
}

// ConfigArgs returns the config subcommand arguments for c reading inputs and
// writing outfile.
func (g *Generator) ConfigArgs(c Combination, inputs []string, outfile string) []string {
	strides := c.Strides()
	args := []string{
		"config",
		"--amplitude-dispersion-threshold", strconv.FormatFloat(g.Threshold, 'g', -1, 64),
	}
	if g.SingleUpdate {
		args = append(args, "--single-update")
	}
	args = append(args, "--slc-files")
	args = append(args, inputs...)
	args = append(args,
		"--block-size-gb", strconv.Itoa(c.BlockSizeGB),
		"--strides", strconv.Itoa(strides.X), strconv.Itoa(strides.Y),
		"--threads-per-worker", strconv.Itoa(c.ThreadsPerWorker),
		"-o", outfile,
	)
	return args
}

// Generate writes the artifact for c and returns it with the step result.
// A non-nil error is also stored in the result.
func (g *Generator) Generate(ctx context.Context, c Combination, inputs []string) (Artifact, StepResult, error) {
	artifact := Artifact{Path: filepath.Join(g.WorkDir, ConfigFilename(c)), Combination: c}
	args := g.ConfigArgs(c, inputs, artifact.Path)
	res := StepResult{
		Phase:       PhaseGenerate,
		Combination: c,
		Artifact:    artifact.Path,
		Command:     command.FormatCommandLine(g.Tool, args),
		StartedAt:   g.Clock.Now(),
	}

	monitoring.Debugf("[sweep] generating %s", artifact.Name())
	out, err := g.Commands.BuildCommand(ctx, g.Tool, args...).Run()
	res.Duration = g.Clock.Since(res.StartedAt)
	res.ExitCode = command.ExitCode(err)
	if err != nil {
		if len(out) > 0 {
			monitoring.Logf("[sweep] %s config output:\n%s", g.Tool, out)
		}
		res.Err = fmt.Errorf("%s config: %w", g.Tool, err)
		return artifact, res, res.Err
	}

	if g.DryRun {
		return artifact, res, nil
	}
	if !g.FS.Exists(artifact.Path) {
		res.Err = fmt.Errorf("%w: %s", ErrArtifactMissing, artifact.Path)
		return artifact, res, res.Err
	}
	if g.Verify {
		if err := VerifyArtifact(g.FS, artifact.Path, c, len(inputs)); err != nil {
			res.Err = err
			return artifact, res, err
		}
	}
	return artifact, res, nil
}
