package sweep

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/banshee-data/dolphin-sweep/internal/config"
	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
)

// ErrInsufficientInputs is returned when the source directory holds fewer
// matching files than a combination's slice count.
var ErrInsufficientInputs = errors.New("insufficient input files")

// InputResolver finds the SLC files a combination is generated from.
type InputResolver struct {
	FS fsutil.FileSystem
	// Dir is searched recursively.
	Dir string
	// Pattern is matched against each file's base name.
	Pattern string
	// Order is config.InputOrderSorted or config.InputOrderListing.
	Order string
}

// Matches lists every file under Dir whose base name matches Pattern, in the
// configured order. Listing order is whatever the filesystem reports and is
// not reproducible across filesystems; sorted order is lexicographic by path.
func (r *InputResolver) Matches() ([]string, error) {
	if _, err := filepath.Match(r.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid input pattern %q: %w", r.Pattern, err)
	}
	files, err := r.FS.ListTree(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing source directory %s: %w", r.Dir, err)
	}
	var out []string
	for _, f := range files {
		if ok, _ := filepath.Match(r.Pattern, filepath.Base(f)); ok {
			out = append(out, f)
		}
	}
	switch r.Order {
	case config.InputOrderListing:
	case config.InputOrderSorted, "":
		sort.Strings(out)
	default:
		return nil, fmt.Errorf("unknown input order %q", r.Order)
	}
	return out, nil
}

// SelectInputs returns the first n entries of matches.
func SelectInputs(matches []string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("slice count must be positive, got %d", n)
	}
	if len(matches) < n {
		return nil, fmt.Errorf("%w: need %d, found %d", ErrInsufficientInputs, n, len(matches))
	}
	return append([]string(nil), matches[:n]...), nil
}
