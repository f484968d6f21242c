package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/atelier/internal/config"
	"github.com/hpungsan/atelier/internal/errors"
)

var exportExts = []string{".md", ".html"}

func TestValidateWritePath_TraversalRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	exportsDir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../gallery.md"},
		{"deep traversal", "../../etc/gallery.md"},
		{"mid-path traversal", "/tmp/../etc/gallery.md"},
		{"hidden in path", "/tmp/safe/../../../etc/shadow.html"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWritePath(tc.path, exportExts, exportsDir, cfg)
			if err == nil {
				t.Error("expected error for path traversal, got nil")
			}
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateWritePath_ExtensionRequired(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow any directory

	for _, path := range []string{"/tmp/gallery", "/tmp/gallery.json", "/tmp/gallery.txt"} {
		t.Run(path, func(t *testing.T) {
			err := ValidateWritePath(path, exportExts, t.TempDir(), cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateWritePath_DefaultDir(t *testing.T) {
	cfg := config.DefaultConfig()
	exportsDir := t.TempDir()

	if err := ValidateWritePath(filepath.Join(exportsDir, "gallery.md"), exportExts, exportsDir, cfg); err != nil {
		t.Errorf("expected success in default dir, got: %v", err)
	}

	err := ValidateWritePath(filepath.Join(t.TempDir(), "gallery.md"), exportExts, exportsDir, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest outside allowed dirs, got: %v", err)
	}
}

func TestValidateWritePath_AllowUnsafePaths(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	writePath := filepath.Join(t.TempDir(), "gallery.html")
	if err := ValidateWritePath(writePath, exportExts, t.TempDir(), cfg); err != nil {
		t.Errorf("expected success with AllowUnsafePaths=true, got: %v", err)
	}
}

func TestValidateWritePath_AllowedPaths(t *testing.T) {
	allowed := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{allowed}

	if err := ValidateWritePath(filepath.Join(allowed, "gallery.md"), exportExts, t.TempDir(), cfg); err != nil {
		t.Errorf("expected success for path in AllowedPaths, got: %v", err)
	}
}

func TestValidateWritePath_NestedPathRejected(t *testing.T) {
	allowedDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{allowedDir}

	subDir := filepath.Join(allowedDir, "subdir")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	err := ValidateWritePath(filepath.Join(subDir, "gallery.md"), exportExts, t.TempDir(), cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestValidateWritePath_SymlinkFileRejected(t *testing.T) {
	allowedDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	targetFile := filepath.Join(t.TempDir(), "secret.md")
	if err := os.WriteFile(targetFile, []byte("# secret"), 0600); err != nil {
		t.Fatalf("failed to create target file: %v", err)
	}
	symlink := filepath.Join(allowedDir, "gallery.md")
	if err := os.Symlink(targetFile, symlink); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	// Unsafe mode bypasses the allowlist, not the symlink check
	err := ValidateWritePath(symlink, exportExts, allowedDir, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestValidateDir(t *testing.T) {
	cfg := config.DefaultConfig()
	downloads := t.TempDir()

	if err := ValidateDir(downloads, downloads, cfg); err != nil {
		t.Errorf("expected default dir to pass, got: %v", err)
	}
	if err := ValidateDir(t.TempDir(), downloads, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest outside allowed dirs, got: %v", err)
	}
	if err := ValidateDir("", downloads, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for empty dir, got: %v", err)
	}
	if err := ValidateDir(filepath.Join(downloads, "..", "x"), downloads, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for traversal, got: %v", err)
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path     string
		contains bool
	}{
		{"/home/user/file.md", false},
		{"../file.md", true},
		{"/home/../etc/passwd", true},
		{"./file.md", false},
		{"/home/user/.hidden/file.md", false},
		{"file..name.md", false}, // .. not as path component
		{"/tmp/a/b/../c.html", true},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := containsTraversal(tc.path); got != tc.contains {
				t.Errorf("containsTraversal(%q) = %v, want %v", tc.path, got, tc.contains)
			}
		})
	}
}
