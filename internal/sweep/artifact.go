package sweep

import (
	"errors"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
)

var (
	// ErrArtifactMissing means config generation exited cleanly without writing its output.
	ErrArtifactMissing = errors.New("configuration artifact missing")
	// ErrArtifactMismatch means a generated artifact disagrees with its combination.
	ErrArtifactMismatch = errors.New("configuration artifact does not match combination")
)

// Artifact is a configuration file consumed by the run phase.
type Artifact struct {
	// Path is the artifact's location, absolute when produced by a Runner.
	Path string `json:"path"`
	// Combination is zero when the name does not follow the naming template.
	Combination Combination `json:"combination"`
}

// Name returns the artifact's base name.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// LogPath returns where the run log for this artifact is written.
func (a Artifact) LogPath() string {
	return LogFilename(a.Path)
}

// artifactDocument holds the keys of a dolphin workflow config the sweep sets.
// Pointers distinguish absent keys, which are not checked.
type artifactDocument struct {
	CSLCFileList   *[]string `yaml:"cslc_file_list"`
	WorkerSettings *struct {
		BlockSizeGB      *float64 `yaml:"block_size_gb"`
		ThreadsPerWorker *int     `yaml:"threads_per_worker"`
	} `yaml:"worker_settings"`
	OutputOptions *struct {
		Strides *Strides `yaml:"strides"`
	} `yaml:"output_options"`
}

// VerifyArtifact decodes the artifact at path and checks the settings it
// carries against c and the number of inputs it was generated from.
func VerifyArtifact(fs fsutil.FileSystem, path string, c Combination, inputs int) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactMissing, path, err)
	}

	var doc artifactDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	if doc.CSLCFileList != nil && len(*doc.CSLCFileList) != inputs {
		return fmt.Errorf("%w: cslc_file_list has %d entries, want %d",
			ErrArtifactMismatch, len(*doc.CSLCFileList), inputs)
	}
	if ws := doc.WorkerSettings; ws != nil {
		if ws.BlockSizeGB != nil && *ws.BlockSizeGB != float64(c.BlockSizeGB) {
			return fmt.Errorf("%w: worker_settings.block_size_gb is %g, want %d",
				ErrArtifactMismatch, *ws.BlockSizeGB, c.BlockSizeGB)
		}
		if ws.ThreadsPerWorker != nil && *ws.ThreadsPerWorker != c.ThreadsPerWorker {
			return fmt.Errorf("%w: worker_settings.threads_per_worker is %d, want %d",
				ErrArtifactMismatch, *ws.ThreadsPerWorker, c.ThreadsPerWorker)
		}
	}
	if oo := doc.OutputOptions; oo != nil && oo.Strides != nil {
		if want := c.Strides(); *oo.Strides != want {
			return fmt.Errorf("%w: output_options.strides is {x: %d, y: %d}, want {x: %d, y: %d}",
				ErrArtifactMismatch, oo.Strides.X, oo.Strides.Y, want.X, want.Y)
		}
	}
	return nil
}
