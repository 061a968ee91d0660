package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the documented sweep defaults file.
const DefaultConfigPath = "config/sweep.defaults.json"

// Input ordering modes for the slice file list.
const (
	// InputOrderSorted takes the first n matches after a lexicographic sort.
	InputOrderSorted = "sorted"
	// InputOrderListing takes the first n matches in raw directory-listing order,
	// which is not reproducible across filesystems.
	InputOrderListing = "listing"
)

// Built-in defaults. They reproduce the fixed GPU benchmark sweep.
var (
	defaultBlockSizesGB     = []int{1, 4}
	defaultStrideFactors    = []int{2, 3}
	defaultThreadsPerWorker = []int{4, 32}
	defaultSliceCounts      = []int{15, 27}
	defaultEvictCommand     = []string{"vmtouch", "-e"}
	defaultScratchPaths     = []string{"scratch/linked_phase", "scratch/slc_stack.vrt"}
)

const (
	defaultSourceDir    = "data"
	defaultInputGlob    = "*185684_iw2*.h5"
	defaultThreshold    = 0.25
	defaultToolBinary   = "dolphin"
	defaultArtifactGlob = "*.yaml"
	defaultWorkDir      = "."
)

// SweepConfig describes one benchmark sweep. Every field is optional in the
// JSON file; the Get* accessors fall back to the built-in defaults, so
// partial configs are safe. Slice-valued fields use nil for "unset".
type SweepConfig struct {
	// Enumerations, iterated with BlockSizesGB outermost and SliceCounts innermost.
	BlockSizesGB     []int `json:"block_sizes_gb,omitempty"`
	StrideFactors    []int `json:"stride_factors,omitempty"`
	ThreadsPerWorker []int `json:"threads_per_worker,omitempty"`
	SliceCounts      []int `json:"slice_counts,omitempty"`

	// Input discovery
	SourceDir  *string `json:"source_dir,omitempty"`
	InputGlob  *string `json:"input_glob,omitempty"`
	InputOrder *string `json:"input_order,omitempty"` // "sorted" or "listing"

	// Processing tool options passed to config generation
	AmplitudeDispersionThreshold *float64 `json:"amplitude_dispersion_threshold,omitempty"`
	SingleUpdate                 *bool    `json:"single_update,omitempty"`
	ToolBinary                   *string  `json:"tool_binary,omitempty"`

	// Run isolation
	EvictCommand []string `json:"evict_command,omitempty"` // source dir is appended
	ScratchPaths []string `json:"scratch_paths,omitempty"` // relative to work_dir

	// Artifacts
	WorkDir          *string `json:"work_dir,omitempty"`
	ArtifactGlob     *string `json:"artifact_glob,omitempty"`
	DiscoverExisting *bool   `json:"discover_existing,omitempty"`
	VerifyArtifacts  *bool   `json:"verify_artifacts,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptySweepConfig returns a SweepConfig with every field unset.
func EmptySweepConfig() *SweepConfig {
	return &SweepConfig{}
}

// DefaultSweepConfig returns a SweepConfig with every field populated from the built-in defaults.
func DefaultSweepConfig() *SweepConfig {
	return EmptySweepConfig().Resolved()
}

// LoadSweepConfig loads a SweepConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadSweepConfig(path string) (*SweepConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySweepConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Intended for tests.
func MustLoadDefaultConfig() *SweepConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSweepConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *SweepConfig) Validate() error {
	enums := []struct {
		name string
		vals []int
	}{
		{"block_sizes_gb", c.BlockSizesGB},
		{"stride_factors", c.StrideFactors},
		{"threads_per_worker", c.ThreadsPerWorker},
		{"slice_counts", c.SliceCounts},
	}
	for _, e := range enums {
		if e.vals == nil {
			continue
		}
		if len(e.vals) == 0 {
			return fmt.Errorf("%s must not be empty", e.name)
		}
		seen := make(map[int]bool, len(e.vals))
		for _, v := range e.vals {
			if v <= 0 {
				return fmt.Errorf("%s values must be positive, got %d", e.name, v)
			}
			// Duplicates would map two combinations onto one artifact filename.
			if seen[v] {
				return fmt.Errorf("%s contains duplicate value %d", e.name, v)
			}
			seen[v] = true
		}
	}

	if c.InputOrder != nil {
		switch *c.InputOrder {
		case InputOrderSorted, InputOrderListing:
		default:
			return fmt.Errorf("input_order must be %q or %q, got %q", InputOrderSorted, InputOrderListing, *c.InputOrder)
		}
	}

	if c.AmplitudeDispersionThreshold != nil {
		if v := *c.AmplitudeDispersionThreshold; v <= 0 || v > 1 {
			return fmt.Errorf("amplitude_dispersion_threshold must be in (0, 1], got %f", v)
		}
	}

	if c.ToolBinary != nil && strings.TrimSpace(*c.ToolBinary) == "" {
		return fmt.Errorf("tool_binary must not be empty")
	}
	if c.SourceDir != nil && strings.TrimSpace(*c.SourceDir) == "" {
		return fmt.Errorf("source_dir must not be empty")
	}

	if c.EvictCommand != nil {
		if len(c.EvictCommand) == 0 || strings.TrimSpace(c.EvictCommand[0]) == "" {
			return fmt.Errorf("evict_command must name a program")
		}
	}

	for _, p := range c.ScratchPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("scratch_paths must not contain empty entries")
		}
		if filepath.IsAbs(p) {
			return fmt.Errorf("scratch path %q must be relative to work_dir", p)
		}
	}

	for name, pattern := range map[string]*string{"input_glob": c.InputGlob, "artifact_glob": c.ArtifactGlob} {
		if pattern == nil {
			continue
		}
		if *pattern == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
		if _, err := filepath.Match(*pattern, ""); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *pattern, err)
		}
	}
	return nil
}

// Resolved returns a copy with every unset field filled from the defaults.
func (c *SweepConfig) Resolved() *SweepConfig {
	return &SweepConfig{
		BlockSizesGB:                 c.GetBlockSizesGB(),
		StrideFactors:                c.GetStrideFactors(),
		ThreadsPerWorker:             c.GetThreadsPerWorker(),
		SliceCounts:                  c.GetSliceCounts(),
		SourceDir:                    ptrString(c.GetSourceDir()),
		InputGlob:                    ptrString(c.GetInputGlob()),
		InputOrder:                   ptrString(c.GetInputOrder()),
		AmplitudeDispersionThreshold: ptrFloat64(c.GetAmplitudeDispersionThreshold()),
		SingleUpdate:                 ptrBool(c.GetSingleUpdate()),
		ToolBinary:                   ptrString(c.GetToolBinary()),
		EvictCommand:                 c.GetEvictCommand(),
		ScratchPaths:                 c.GetScratchPaths(),
		WorkDir:                      ptrString(c.GetWorkDir()),
		ArtifactGlob:                 ptrString(c.GetArtifactGlob()),
		DiscoverExisting:             ptrBool(c.GetDiscoverExisting()),
		VerifyArtifacts:              ptrBool(c.GetVerifyArtifacts()),
	}
}

func intsOr(v, def []int) []int {
	if v == nil {
		v = def
	}
	return append([]int(nil), v...)
}

func stringsOr(v, def []string) []string {
	if v == nil {
		v = def
	}
	return append([]string{}, v...)
}

// GetBlockSizesGB returns the block sizes (GB) to sweep.
func (c *SweepConfig) GetBlockSizesGB() []int { return intsOr(c.BlockSizesGB, defaultBlockSizesGB) }

// GetStrideFactors returns the stride factors to sweep.
func (c *SweepConfig) GetStrideFactors() []int { return intsOr(c.StrideFactors, defaultStrideFactors) }

// GetThreadsPerWorker returns the threads-per-worker values to sweep.
func (c *SweepConfig) GetThreadsPerWorker() []int {
	return intsOr(c.ThreadsPerWorker, defaultThreadsPerWorker)
}

// GetSliceCounts returns the SLC counts to sweep.
func (c *SweepConfig) GetSliceCounts() []int { return intsOr(c.SliceCounts, defaultSliceCounts) }

// GetSourceDir returns the directory searched for input SLC files.
func (c *SweepConfig) GetSourceDir() string {
	if c.SourceDir == nil {
		return defaultSourceDir
	}
	return *c.SourceDir
}

// GetInputGlob returns the base-name pattern input files must match.
func (c *SweepConfig) GetInputGlob() string {
	if c.InputGlob == nil {
		return defaultInputGlob
	}
	return *c.InputGlob
}

// GetInputOrder returns how matching input files are ordered before truncation.
func (c *SweepConfig) GetInputOrder() string {
	if c.InputOrder == nil {
		return InputOrderSorted
	}
	return *c.InputOrder
}

// GetAmplitudeDispersionThreshold returns the threshold passed to config generation.
func (c *SweepConfig) GetAmplitudeDispersionThreshold() float64 {
	if c.AmplitudeDispersionThreshold == nil {
		return defaultThreshold
	}
	return *c.AmplitudeDispersionThreshold
}

// GetSingleUpdate reports whether the single-update flag is passed.
func (c *SweepConfig) GetSingleUpdate() bool {
	if c.SingleUpdate == nil {
		return true
	}
	return *c.SingleUpdate
}

// GetToolBinary returns the processing tool executable.
func (c *SweepConfig) GetToolBinary() string {
	if c.ToolBinary == nil {
		return defaultToolBinary
	}
	return *c.ToolBinary
}

// GetEvictCommand returns the cache eviction command prefix.
func (c *SweepConfig) GetEvictCommand() []string {
	return stringsOr(c.EvictCommand, defaultEvictCommand)
}

// GetScratchPaths returns the scratch paths removed before each run.
func (c *SweepConfig) GetScratchPaths() []string {
	return stringsOr(c.ScratchPaths, defaultScratchPaths)
}

// GetWorkDir returns the directory artifacts and logs are written to.
func (c *SweepConfig) GetWorkDir() string {
	if c.WorkDir == nil || *c.WorkDir == "" {
		return defaultWorkDir
	}
	return *c.WorkDir
}

// GetArtifactGlob returns the pattern used when discovering existing artifacts.
func (c *SweepConfig) GetArtifactGlob() string {
	if c.ArtifactGlob == nil {
		return defaultArtifactGlob
	}
	return *c.ArtifactGlob
}

// GetDiscoverExisting reports whether the run phase enumerates artifact_glob
// in work_dir instead of using the list returned by generation.
func (c *SweepConfig) GetDiscoverExisting() bool {
	if c.DiscoverExisting == nil {
		return false
	}
	return *c.DiscoverExisting
}

// GetVerifyArtifacts reports whether generated artifacts are decoded and checked.
func (c *SweepConfig) GetVerifyArtifacts() bool {
	if c.VerifyArtifacts == nil {
		return true
	}
	return *c.VerifyArtifacts
}
