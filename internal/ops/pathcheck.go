package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/atelier/internal/config"
	"github.com/hpungsan/atelier/internal/errors"
)

// ValidateWritePath checks a destination file for exports:
// 1. Path traversal (.. sequences)
// 2. Extension (one of exts)
// 3. Directory restrictions (file must be DIRECTLY in defaultDir or allowed_paths)
// 4. Symlink safety (parent dir and file must not be symlinks)
//
// The "no subdirectories" rule closes the window where an intermediate directory
// could be swapped for a symlink between validation and open. O_NOFOLLOW at open
// time covers the final component.
func ValidateWritePath(path string, exts []string, defaultDir string, cfg *config.Config) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if !hasExt(cleaned, exts) {
		return errors.NewInvalidRequest(fmt.Sprintf("path must have one of the extensions %v", exts))
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if err := validateDir(filepath.Dir(absPath), defaultDir, cfg); err != nil {
		return err
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// ValidateDir checks a destination directory for downloads with the same
// directory rules as ValidateWritePath.
func ValidateDir(dir, defaultDir string, cfg *config.Config) error {
	if dir == "" {
		return errors.NewInvalidRequest("directory is required")
	}
	if containsTraversal(dir) {
		return errors.NewInvalidRequest("directory must not contain directory traversal (..)")
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid directory: %v", err))
	}
	return validateDir(abs, defaultDir, cfg)
}

func validateDir(absDir, defaultDir string, cfg *config.Config) error {
	// Unsafe mode skips the allowlist, never the symlink check.
	if cfg == nil || !cfg.AllowUnsafePaths {
		allowedDirs, err := getAllowedDirs(defaultDir, cfg)
		if err != nil {
			return err
		}
		if !isDirectlyInAllowedDir(absDir, allowedDirs) {
			return errors.NewInvalidRequest(
				fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v",
					allowedDirs))
		}
	}

	if info, err := os.Lstat(absDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("parent directory must not be a symlink")
	}
	return nil
}

// getAllowedDirs returns defaultDir plus the configured allowed_paths (absolute,
// cleaned). Existing symlinked entries are resolved to their targets.
func getAllowedDirs(defaultDir string, cfg *config.Config) ([]string, error) {
	dirs := []string{defaultDir}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		result = append(result, abs)
	}
	return result, nil
}

// isDirectlyInAllowedDir checks if dir exactly matches one of the allowed directories.
func isDirectlyInAllowedDir(dir string, allowedDirs []string) bool {
	dir = filepath.Clean(dir)
	for _, allowed := range allowedDirs {
		if dir == filepath.Clean(allowed) {
			return true
		}
	}
	return false
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Forward slashes count on every platform (user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
