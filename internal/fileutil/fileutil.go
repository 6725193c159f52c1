// Package fileutil provides filename sanitization and atomic file writes
// for download artifacts.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var pathSeparators = strings.NewReplacer("/", "-", "\\", "-")

// SanitizeTitle rewrites path-separator characters in a title so it is safe
// as a single filename component.
func SanitizeTitle(title string) string {
	clean := pathSeparators.Replace(strings.TrimSpace(title))
	if clean == "" {
		return "untitled"
	}
	return clean
}

// ArtifactPath resolves the destination file for an item title inside the
// batch output directory.
func ArtifactPath(outputDir, title string) string {
	return filepath.Join(outputDir, SanitizeTitle(title)+".pdf")
}

// EnsureDir creates dir and parents if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// WriteFileAtomic persists data via a temp file renamed into place, so a
// crash mid-write never leaves a truncated file at path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
