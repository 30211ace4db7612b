package ingest

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "upload.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractArchive(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{
		"parcs.shp": "shape bytes",
		"parcs.prj": lambert93Prj,
		"sub/readme.txt": "notes",
	})

	files, err := ExtractArchive(path, filepath.Join(dir, "out"), 1<<20)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	for _, f := range files {
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}
}

func TestExtractArchiveRejectsUnknownContainer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.rar")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := ExtractArchive(path, dir, 1<<20)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestExtractArchiveEnforcesSizeLimit(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 4096)
	path := writeZip(t, dir, map[string]string{"big.bin": string(big)})

	_, err := ExtractArchive(path, filepath.Join(dir, "out"), 1024)
	assert.ErrorIs(t, err, ErrSizeLimit)
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{"../escape.txt": "x"})

	_, err := ExtractArchive(path, filepath.Join(dir, "out"), 1<<20)
	assert.ErrorIs(t, err, ErrWrongData)
}
