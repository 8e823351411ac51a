package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirTimestamp renders t as a directory-safe name, e.g.
// Tue_Mar__4_09-15-02_2025. Every unit of one batch shares it.
func DirTimestamp(t time.Time) string {
	s := t.Format("Mon Jan _2 15:04:05 2006")
	return strings.NewReplacer(" ", "_", ":", "-").Replace(s)
}

// RunDirName is the zero-padded run directory name for a sequence id.
func RunDirName(seq int) string {
	return fmt.Sprintf("%05d", seq)
}

// ensureDir creates dir and any missing parents. Existing directories are
// not an error.
func ensureDir(dir string) error {
	// #nosec G301 -- run output is shared with the users who read the logs
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand ~: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

// resolveExecutable returns the absolute, symlink-free path of an existing
// file.
func resolveExecutable(p string) (string, error) {
	expanded, err := expandHome(strings.TrimSpace(p))
	if err != nil {
		return "", &PathResolutionError{Path: p, Err: err}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", &PathResolutionError{Path: p, Err: err}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &PathResolutionError{Path: p, Err: err}
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return "", &PathResolutionError{Path: p, Err: err}
	}
	if st.IsDir() {
		return "", &PathResolutionError{Path: p, Err: fmt.Errorf("%s is a directory", resolved)}
	}
	return resolved, nil
}
