package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	calls []string
}

func (m *recordingMirror) Mirror(ctx context.Context, path string, data []byte) error {
	m.calls = append(m.calls, path)
	return nil
}

func newTestPathManager(t *testing.T) *PathManager {
	t.Helper()
	dir := t.TempDir()
	return NewPathManager(Roots{
		BlobPath:        filepath.Join(dir, "blobs"),
		ImagesPath:      filepath.Join(dir, "images"),
		VideosPath:      filepath.Join(dir, "videos"),
		DescriptorsPath: filepath.Join(dir, "descriptors"),
		TmpPath:         filepath.Join(dir, "tmp"),
		BackupPath:      filepath.Join(dir, "backup"),
	})
}

func TestNewImagePathIsUnderImagesRootWithExtension(t *testing.T) {
	pm := newTestPathManager(t)
	path, err := pm.NewImagePath("jpg")
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(path))
	assert.Contains(t, path, pm.roots.ImagesPath)
}

func TestNewImagePathNeverCollides(t *testing.T) {
	pm := newTestPathManager(t)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		path, err := pm.NewImagePath("jpg")
		require.NoError(t, err)
		require.False(t, seen[path])
		seen[path] = true
	}
}

func TestNewVideoPathShardsAcrossDirectories(t *testing.T) {
	pm := newTestPathManager(t)
	dirs := map[string]bool{}
	for i := 0; i < 50; i++ {
		path, err := pm.NewVideoPath("mp4")
		require.NoError(t, err)
		dirs[filepath.Dir(path)] = true
	}
	assert.Greater(t, len(dirs), 1)
}

func TestNewDescriptorSetDirCreatesDirectory(t *testing.T) {
	pm := newTestPathManager(t)
	dir, err := pm.NewDescriptorSetDir()
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestWriteBlobThenReadBlobRoundTrips(t *testing.T) {
	pm := newTestPathManager(t)
	path, err := pm.NewBlobPath("bin")
	require.NoError(t, err)

	require.NoError(t, WriteBlob(path, []byte("hello")))
	got, err := ReadBlob(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestPersistWithoutMirrorDefaultsToNoop(t *testing.T) {
	pm := newTestPathManager(t)
	path, err := pm.NewBlobPath("bin")
	require.NoError(t, err)

	require.NoError(t, pm.Persist(context.Background(), path, []byte("hello")))
	got, err := ReadBlob(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestPersistCallsConfiguredMirror(t *testing.T) {
	pm := newTestPathManager(t)
	mirror := &recordingMirror{}
	pm.WithMirror(mirror)

	path, err := pm.NewBlobPath("bin")
	require.NoError(t, err)

	require.NoError(t, pm.Persist(context.Background(), path, []byte("hello")))
	assert.Equal(t, []string{path}, mirror.calls)
}

func TestMirrorArtifactDoesNotRewriteLocalFile(t *testing.T) {
	pm := newTestPathManager(t)
	mirror := &recordingMirror{}
	pm.WithMirror(mirror)

	path, err := pm.NewBlobPath("bin")
	require.NoError(t, err)
	require.NoError(t, WriteBlob(path, []byte("original")))

	require.NoError(t, pm.MirrorArtifact(context.Background(), path, []byte("original")))
	assert.Equal(t, []string{path}, mirror.calls)

	got, err := ReadBlob(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}
