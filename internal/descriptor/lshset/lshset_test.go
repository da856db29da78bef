package lshset

import (
	"testing"

	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLSHSetSearchRequiresFinalize(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 3, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	_, err = set.Add([][]float32{{1, 0, 0}}, nil)
	require.NoError(t, err)

	_, err = set.Search([][]float32{{1, 0, 0}}, 1)
	assert.ErrorIs(t, err, descriptor.ErrNotFinalized)
}

func TestLSHSetFinalizeThenSearchFindsExactMatch(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 3, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	_, err = set.Add([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, []int64{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, set.FinalizeIndex())

	results, err := set.Search([][]float32{{0, 1, 0}}, 1)
	require.NoError(t, err)
	require.Len(t, results[0].IDs, 1)
	assert.Equal(t, int64(1), results[0].IDs[0])
}

func TestLSHSetAddAfterFinalizeInvalidatesState(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 2, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	_, err = set.Add([][]float32{{1, 1}}, nil)
	require.NoError(t, err)
	require.NoError(t, set.FinalizeIndex())

	_, err = set.Add([][]float32{{2, 2}}, nil)
	require.NoError(t, err)

	_, err = set.Search([][]float32{{1, 1}}, 1)
	assert.ErrorIs(t, err, descriptor.ErrNotFinalized)
}

func TestLSHSetTrainNotImplemented(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 2, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	assert.ErrorIs(t, set.Train(nil), descriptor.ErrNotImplemented)
}
