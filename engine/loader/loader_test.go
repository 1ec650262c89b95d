package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedFS blocks every read until release is closed.
type gatedFS struct {
	fs.FS
	release chan struct{}
}

func (g gatedFS) Open(name string) (fs.File, error) {
	<-g.release
	return g.FS.Open(name)
}

func TestSourceNotLoadedUntilReadCompletes(t *testing.T) {
	release := make(chan struct{})
	l := NewLoader(BackendTypeFile, WithFS(gatedFS{
		FS:      fstest.MapFS{"shaders/a.wgsl": {Data: []byte("fn a() {}")}},
		release: release,
	}))

	_, err := l.Source("shaders/a.wgsl")
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = l.Source("./shaders/a.wgsl")
	assert.ErrorIs(t, err, ErrNotLoaded)

	close(release)
	l.Wait()

	src, err := l.Source("shaders/a.wgsl")
	require.NoError(t, err)
	assert.Equal(t, "fn a() {}", src)
}

func TestSourceMissingAsset(t *testing.T) {
	l := NewLoader(BackendTypeFile, WithFS(fstest.MapFS{}))
	l.Request("missing.wgsl")
	l.Wait()

	_, err := l.Source("missing.wgsl")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotLoaded)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorContains(t, err, "missing.wgsl")
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.wgsl"), []byte("fn x() {}"), 0o600))

	l := NewLoader(BackendTypeFile, WithRoot(dir))
	l.Request("x.wgsl")
	l.Wait()

	src, err := l.Source("x.wgsl")
	require.NoError(t, err)
	assert.Equal(t, "fn x() {}", src)
}

func TestEmbeddedBackend(t *testing.T) {
	l := NewLoader(BackendTypeEmbedded)
	l.Request("shaders/checker_board_pingpong.wgsl")
	l.Wait()

	src, err := l.Source("shaders/checker_board_pingpong.wgsl")
	require.NoError(t, err)
	assert.Contains(t, src, "fn checker_board")
}
