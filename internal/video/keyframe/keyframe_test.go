package keyframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "frames": [
    {"key_frame": 1, "pkt_pts_time": "0.000000"},
    {"key_frame": 0, "pkt_pts_time": "0.033333"},
    {"key_frame": 0, "pkt_pts_time": "0.066667"},
    {"key_frame": 1, "pkt_pts_time": "2.000000"},
    {"key_frame": 0, "pkt_pts_time": "2.033333"},
    {"key_frame": 0, "pkt_pts_time": "2.066667"}
  ]
}`

func TestParseCollectsKeyFramesInOrder(t *testing.T) {
	idx, err := Parse([]byte(sampleProbe))
	require.NoError(t, err)
	assert.Equal(t, 6, idx.FrameCount())
	assert.Equal(t, []int{0, 3}, idx.keys)
}

func TestNearestFindsPrecedingKeyFrame(t *testing.T) {
	idx, err := Parse([]byte(sampleProbe))
	require.NoError(t, err)

	seek, offset := idx.Nearest(5)
	assert.Equal(t, 2.0, seek)
	assert.Equal(t, 2, offset)

	seek, offset = idx.Nearest(1)
	assert.Equal(t, 0.0, seek)
	assert.Equal(t, 1, offset)

	seek, offset = idx.Nearest(3)
	assert.Equal(t, 2.0, seek)
	assert.Equal(t, 0, offset)
}

func TestNearestOnNilIndexFallsBackToFrameIndex(t *testing.T) {
	var idx *Index
	seek, offset := idx.Nearest(7)
	assert.Equal(t, 0.0, seek)
	assert.Equal(t, 7, offset)
}

func TestParseWithNoKeyFrameFlagFallsBackToFrameZero(t *testing.T) {
	idx, err := Parse([]byte(`{"frames": [{"pkt_pts_time": "0.0"}, {"pkt_pts_time": "1.0"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx.keys)
}

func TestFrameCountOnNilIndexIsZero(t *testing.T) {
	var idx *Index
	assert.Equal(t, 0, idx.FrameCount())
}
