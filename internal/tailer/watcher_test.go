package tailer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/tailer"
)

func TestWatcherPollReturnsOnlyNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.log"), "x")

	w := tailer.NewWatcher(filepath.Join(dir, "*.log"))
	defer w.Close()

	first, err := w.Poll()
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.log")}, first)

	second, err := w.Poll()
	require.NoError(t, err)
	require.Empty(t, second)

	writeFile(t, filepath.Join(dir, "b.log"), "y")
	third, err := w.Poll()
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "b.log")}, third)
}

func TestWatcherForgetAllowsRediscovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "x")

	w := tailer.NewWatcher(filepath.Join(dir, "*.log"))
	defer w.Close()

	first, err := w.Poll()
	require.NoError(t, err)
	require.Equal(t, []string{path}, first)

	w.Forget(path)

	second, err := w.Poll()
	require.NoError(t, err)
	require.Equal(t, []string{path}, second)
}

func TestWatcherPollSortedForMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.log"), "x")
	writeFile(t, filepath.Join(dir, "b.log"), "y")

	w := tailer.NewWatcher(filepath.Join(dir, "*.log"))
	defer w.Close()

	got, err := w.Poll()
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")}, got)

	_, statErr := os.Stat(filepath.Join(dir, "a.log"))
	require.NoError(t, statErr)
}
