package sparseset

import (
	"testing"

	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseSetAddAndSearchFindsNearest(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 2, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	_, err = set.Add([][]float32{{1, 1}, {5, 5}, {-5, -5}}, []int64{1, 2, 3})
	require.NoError(t, err)

	results, err := set.Search([][]float32{{1, 1}}, 1)
	require.NoError(t, err)
	require.Len(t, results[0].IDs, 1)
	assert.Equal(t, int64(0), results[0].IDs[0])
}

func TestSparseSetRadiusSearchTruncatesToLimit(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 2, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	_, err = set.Add([][]float32{{0, 0}, {0.1, 0.1}, {0.2, 0.2}}, nil)
	require.NoError(t, err)

	res, err := set.RadiusSearch([]float32{0, 0}, 1.0, 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.IDs), 2)
}

func TestSparseSetGetDescriptorsUnknownID(t *testing.T) {
	dir := t.TempDir()
	set, err := Create(dir, 2, descriptor.MetricL2)
	require.NoError(t, err)
	defer set.Close()

	out, err := set.GetDescriptors([]int64{42})
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, -1}, out[0])
}
