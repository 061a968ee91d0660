package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "work")
	outsideDir := filepath.Join(tmpDir, "data")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create work directory: %v", err)
	}
	if err := os.MkdirAll(outsideDir, 0755); err != nil {
		t.Fatalf("Failed to create data directory: %v", err)
	}

	// scratch lives on another disk
	if err := os.Symlink(outsideDir, filepath.Join(safeDir, "scratch")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"existing child", safeDir, false},
		{"missing nested child", filepath.Join(safeDir, "a", "b", "linked_phase"), false},
		{"through symlinked dir", filepath.Join(safeDir, "scratch", "slc_stack.vrt"), false},
		{"dot-dot escape", filepath.Join(safeDir, "..", "data"), true},
		{"dot-dot inside name", filepath.Join(safeDir, "..data"), false},
		{"absolute elsewhere", outsideDir, true},
		{"sibling with shared prefix", safeDir + "-other", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if tt.wantError && err == nil {
				t.Errorf("expected error for %s, got nil", tt.filePath)
			}
			if !tt.wantError && err != nil {
				t.Errorf("unexpected error for %s: %v", tt.filePath, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "not-created-yet")
	if err := ValidatePathWithinDirectory(filepath.Join(missing, "scratch", "x"), missing); err != nil {
		t.Fatalf("unexpected error for a missing safe directory: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(missing, "..", "x"), missing); err == nil {
		t.Fatal("expected error for an escaping path under a missing safe directory")
	}
}

func TestResolveWithin(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolveWithin(dir, "scratch/linked_phase")
	if err != nil {
		t.Fatalf("ResolveWithin failed: %v", err)
	}
	if want := filepath.Join(dir, "scratch", "linked_phase"); got != want {
		t.Errorf("ResolveWithin = %q, want %q", got, want)
	}

	got, err = ResolveWithin(dir, "scratch/./tmp/../slc_stack.vrt")
	if err != nil {
		t.Fatalf("ResolveWithin failed: %v", err)
	}
	if want := filepath.Join(dir, "scratch", "slc_stack.vrt"); got != want {
		t.Errorf("ResolveWithin = %q, want %q", got, want)
	}

	for _, bad := range []string{"", "  ", ".", "scratch/..", "../elsewhere", "/etc"} {
		if _, err := ResolveWithin(dir, bad); err == nil {
			t.Errorf("ResolveWithin(%q) expected error", bad)
		}
	}
}

func TestResolveWithinSymlinkedScratch(t *testing.T) {
	work := t.TempDir()
	fast := t.TempDir()
	if err := os.Symlink(fast, filepath.Join(work, "scratch")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	got, err := ResolveWithin(work, "scratch/linked_phase")
	if err != nil {
		t.Fatalf("ResolveWithin through symlinked scratch: %v", err)
	}
	if want := filepath.Join(work, "scratch", "linked_phase"); got != want {
		t.Errorf("ResolveWithin = %q, want %q", got, want)
	}
}

func TestResolveWithinMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh-workdir")
	if _, err := ResolveWithin(dir, "scratch/slc_stack.vrt"); err != nil {
		t.Fatalf("ResolveWithin on a missing work dir: %v", err)
	}
}
