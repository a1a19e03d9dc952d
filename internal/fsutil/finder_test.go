package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestFindDocuments(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "main.hcl"))
	touch(t, filepath.Join(root, "sets", "live", "b.hcl"))
	touch(t, filepath.Join(root, "sets", "a.hcl"))
	touch(t, filepath.Join(root, "notes.txt"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.hcl"), 0o755))

	files, err := FindDocuments(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "main.hcl"),
		filepath.Join(root, "sets", "a.hcl"),
		filepath.Join(root, "sets", "live", "b.hcl"),
	}, files)

	single, err := FindDocuments(filepath.Join(root, "main.hcl"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "main.hcl")}, single)

	both, err := FindFiles(root, "*.hcl", "**/main.hcl", "*.txt")
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = FindDocuments(filepath.Join(root, "missing"))
	assert.True(t, IsNotExist(err))

	_, err = FindFiles(root, "[")
	assert.Error(t, err)
}
