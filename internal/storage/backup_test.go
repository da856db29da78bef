package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotTarballRoundTrips(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "blobs", "ab"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "blobs", "ab", "deadbeef.bin"), []byte("hello"), 0o644))

	archive := filepath.Join(t.TempDir(), "snapshot.tar.gz")
	require.NoError(t, SnapshotTarball(context.Background(), []string{filepath.Join(src, "blobs")}, archive))

	_, err := os.Stat(archive)
	require.NoError(t, err)

	destRoot := t.TempDir()
	require.NoError(t, RestoreTarball(archive, destRoot))

	restored := filepath.Join(destRoot, "blobs", "ab", "deadbeef.bin")
	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSnapshotTarballSkipsMissingRoot(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "snapshot.tar.gz")
	err := SnapshotTarball(context.Background(), []string{filepath.Join(t.TempDir(), "does-not-exist")}, archive)
	assert.NoError(t, err)
}
