// Package sweep drives a benchmark sweep of the dolphin processing tool: it
// enumerates parameter combinations, generates one configuration artifact per
// combination, then runs the tool against each artifact with cold caches and a
// clean scratch area.
package sweep

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/dolphin-sweep/internal/config"
)

// Combination is one point in the parameter grid.
type Combination struct {
	BlockSizeGB      int `json:"block_size_gb"`
	StrideFactor     int `json:"stride_factor"`
	ThreadsPerWorker int `json:"threads_per_worker"`
	SliceCount       int `json:"slice_count"`
}

// Strides is the output decimation pair passed to config generation.
type Strides struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Strides derives the (x, y) stride pair: x is twice the stride factor.
func (c Combination) Strides() Strides {
	return Strides{X: 2 * c.StrideFactor, Y: c.StrideFactor}
}

func (c Combination) String() string {
	s := c.Strides()
	return fmt.Sprintf("block=%dGB strides=%dx%d tpw=%d nslc=%d",
		c.BlockSizeGB, s.X, s.Y, c.ThreadsPerWorker, c.SliceCount)
}

// IsZero reports whether c is the zero Combination, used for artifacts whose
// name does not follow the naming template.
func (c Combination) IsZero() bool {
	return c == Combination{}
}

// Plan holds the four enumerations of a sweep.
type Plan struct {
	BlockSizesGB     []int
	StrideFactors    []int
	ThreadsPerWorker []int
	SliceCounts      []int
}

// PlanFromConfig builds a Plan from cfg, falling back to defaults for unset fields.
func PlanFromConfig(cfg *config.SweepConfig) Plan {
	return Plan{
		BlockSizesGB:     cfg.GetBlockSizesGB(),
		StrideFactors:    cfg.GetStrideFactors(),
		ThreadsPerWorker: cfg.GetThreadsPerWorker(),
		SliceCounts:      cfg.GetSliceCounts(),
	}
}

// Size returns the number of combinations in the plan.
func (p Plan) Size() int {
	return len(p.BlockSizesGB) * len(p.StrideFactors) * len(p.ThreadsPerWorker) * len(p.SliceCounts)
}

// Enumerate returns every combination in nested order: block size outermost,
// then stride factor, threads per worker, and slice count innermost.
// Enumerations must be non-empty, positive and free of duplicates so that
// every combination maps to a distinct artifact name.
func (p Plan) Enumerate() ([]Combination, error) {
	dims := []struct {
		name string
		vals []int
	}{
		{"block sizes", p.BlockSizesGB},
		{"stride factors", p.StrideFactors},
		{"threads per worker", p.ThreadsPerWorker},
		{"slice counts", p.SliceCounts},
	}
	for _, d := range dims {
		if len(d.vals) == 0 {
			return nil, fmt.Errorf("no %s to sweep", d.name)
		}
		seen := make(map[int]bool, len(d.vals))
		for _, v := range d.vals {
			if v <= 0 {
				return nil, fmt.Errorf("%s must be positive, got %d", d.name, v)
			}
			if seen[v] {
				return nil, fmt.Errorf("duplicate value %d in %s", v, d.name)
			}
			seen[v] = true
		}
	}

	if total := p.Size(); total > maxCombos {
		return nil, fmt.Errorf("parameter combinations would exceed safe limit of %d", maxCombos)
	}

	combos := make([]Combination, 0, p.Size())
	for _, b := range p.BlockSizesGB {
		for _, s := range p.StrideFactors {
			for _, t := range p.ThreadsPerWorker {
				for _, n := range p.SliceCounts {
					combos = append(combos, Combination{
						BlockSizeGB:      b,
						StrideFactor:     s,
						ThreadsPerWorker: t,
						SliceCount:       n,
					})
				}
			}
		}
	}
	return combos, nil
}

// ConfigFilename returns the artifact name for c.
func ConfigFilename(c Combination) string {
	return fmt.Sprintf("dolphin_config_gpu_block%dGB_strides%d_tpw%d_nslc%d.yaml",
		c.BlockSizeGB, c.StrideFactor, c.ThreadsPerWorker, c.SliceCount)
}

// LogFilename returns the run log path for an artifact by replacing a
// trailing .yaml with .log. Other names get .log appended.
func LogFilename(artifact string) string {
	if base, ok := strings.CutSuffix(artifact, ".yaml"); ok {
		return base + ".log"
	}
	return artifact + ".log"
}

var configFilenameRe = regexp.MustCompile(`^dolphin_config_gpu_block(\d+)GB_strides(\d+)_tpw(\d+)_nslc(\d+)\.yaml$`)

// ParseConfigFilename recovers the combination encoded in an artifact name.
// Only the base name is considered.
func ParseConfigFilename(name string) (Combination, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	m := configFilenameRe.FindStringSubmatch(name)
	if m == nil {
		return Combination{}, fmt.Errorf("%q does not match the artifact naming template", name)
	}
	vals := make([]int, 4)
	for i := range vals {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Combination{}, fmt.Errorf("invalid number %q in %q: %w", m[i+1], name, err)
		}
		vals[i] = v
	}
	return Combination{
		BlockSizeGB:      vals[0],
		StrideFactor:     vals[1],
		ThreadsPerWorker: vals[2],
		SliceCount:       vals[3],
	}, nil
}
