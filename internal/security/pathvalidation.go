// Package security guards filesystem operations that act on configured paths.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath lies inside safeDir after
// cleaning. The check is lexical: symlinks are not resolved, so a symlinked
// directory under safeDir is treated as part of it, and neither path needs
// to exist.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	relPath, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, safeDir)
	}
	return nil
}

// ResolveWithin joins p onto dir when p is relative and validates that the
// result stays inside dir. The returned path is cleaned but not
// symlink-resolved, so removing it unlinks a symlinked leaf instead of
// following it.
func ResolveWithin(dir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	full := p
	if !filepath.IsAbs(p) {
		full = filepath.Join(dir, p)
	}
	full = filepath.Clean(full)
	if err := ValidatePathWithinDirectory(full, dir); err != nil {
		return "", err
	}
	if full == filepath.Clean(dir) {
		return "", fmt.Errorf("path %s refers to the directory itself", p)
	}
	return full, nil
}
