// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// DocumentPattern matches graph documents anywhere below a directory.
const DocumentPattern = "**/*.hcl"

// FindFiles returns the files below rootPath matching any of the doublestar
// patterns, sorted and without duplicates. When rootPath is itself a file it
// is returned as is.
func FindFiles(rootPath string, patterns ...string) ([]string, error) {
	if len(patterns) == 0 {
		panic("at least one pattern is required")
	}

	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{rootPath}, nil
	}

	fsys := os.DirFS(rootPath)
	var files []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Join(doublestar.ErrBadPattern, errors.New(pattern))
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			files = append(files, filepath.Join(rootPath, filepath.FromSlash(m)))
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// FindDocuments returns every graph document below rootPath.
func FindDocuments(rootPath string) ([]string, error) {
	return FindFiles(rootPath, DocumentPattern)
}

// IsNotExist reports whether err means the searched path is missing.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
