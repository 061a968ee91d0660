package sweep

import (
	"fmt"
	"strconv"
	"strings"
)

// maxCombos bounds both generated ranges and the total grid size.
const maxCombos = 10000

// IntRangeSpec defines an integer parameter range for sweeping.
type IntRangeSpec struct {
	Min  int
	Max  int
	Step int
}

// ParseIntRangeSpec parses a "min:max:step" string into an IntRangeSpec.
// Returns an error if the format is invalid or values cannot be parsed.
func ParseIntRangeSpec(s string) (IntRangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return IntRangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}

	max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}

	step, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}

	if step <= 0 {
		return IntRangeSpec{}, fmt.Errorf("step must be positive, got %d", step)
	}

	return IntRangeSpec{Min: min, Max: max, Step: step}, nil
}

// GenerateIntRange generates int values from min to max (inclusive) stepping
// by step. Returns nil if min > max or the range would exceed maxCombos values.
func GenerateIntRange(min, max, step int) []int {
	if step <= 0 || min > max {
		return nil
	}

	expectedCount := (max-min)/step + 1
	if expectedCount > maxCombos || expectedCount < 0 {
		return nil
	}

	result := make([]int, 0, expectedCount)
	for v := min; v <= max; v += step {
		result = append(result, v)
	}
	return result
}

// ParseCSVInts parses a comma-separated list of int values.
// Returns nil, nil for empty input strings.
func ParseCSVInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseIntParamList parses a comma-separated list of integers or a range specification.
// If the string contains a colon, it is treated as "min:max:step" range spec.
// Otherwise, it is parsed as comma-separated values.
func ParseIntParamList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	if strings.Contains(s, ":") {
		spec, err := ParseIntRangeSpec(s)
		if err != nil {
			return nil, err
		}
		vals := GenerateIntRange(spec.Min, spec.Max, spec.Step)
		if len(vals) == 0 {
			return nil, fmt.Errorf("range %q produces no values", s)
		}
		return vals, nil
	}

	return ParseCSVInts(s)
}
