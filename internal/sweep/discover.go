package sweep

import (
	"errors"
	"fmt"

	"github.com/banshee-data/dolphin-sweep/internal/fsutil"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
)

// ErrNoArtifacts is returned when discovery finds nothing to run.
var ErrNoArtifacts = errors.New("no configuration artifacts found")

// DiscoverArtifacts lists files in dir matching pattern in lexicographic
// order. It picks up any matching file, including ones left by earlier
// sweeps. Names outside the naming template get a zero Combination.
func DiscoverArtifacts(fs fsutil.FileSystem, dir, pattern string) ([]Artifact, error) {
	paths, err := fs.Glob(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("discovering artifacts in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoArtifacts, pattern, dir)
	}
	artifacts := make([]Artifact, 0, len(paths))
	for _, p := range paths {
		a := Artifact{Path: p}
		if c, err := ParseConfigFilename(p); err == nil {
			a.Combination = c
		} else {
			monitoring.Debugf("[sweep] %v", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
