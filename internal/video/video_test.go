package video

import (
	goimage "image"
	"testing"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	meta         Metadata
	extracted    []int
	transcodedTo string
	remuxedTo    string
}

func (f *fakeRunner) Probe(path string) (Metadata, error) { return f.meta, nil }

func (f *fakeRunner) ExtractFrame(path string, frameIndex int) (goimage.Image, error) {
	f.extracted = append(f.extracted, frameIndex)
	return goimage.NewRGBA(goimage.Rect(0, 0, f.meta.Width, f.meta.Height)), nil
}

func (f *fakeRunner) Transcode(srcPath, dstPath, container string, codec Codec) error {
	f.transcodedTo = dstPath
	return nil
}

func (f *fakeRunner) Remux(srcPath, dstPath, container string) error {
	f.remuxedTo = dstPath
	return nil
}

func TestIntervalFramesAndValidate(t *testing.T) {
	iv := Interval{Unit: UnitFrames, Start: 0, Stop: 10, Step: 3}
	require.NoError(t, iv.Validate(10))
	assert.Equal(t, []int{0, 3, 6, 9}, iv.Frames())

	bad := Interval{Unit: UnitFrames, Start: 5, Stop: 3, Step: 1}
	assert.Error(t, bad.Validate(10))

	badUnit := Interval{Unit: "SECONDS", Start: 0, Stop: 1, Step: 1}
	assert.Error(t, badUnit.Validate(10))
}

func TestFramesAppliesIntervalAndFrameOps(t *testing.T) {
	runner := &fakeRunner{meta: Metadata{Width: 4, Height: 4, FrameCount: 10, FPS: 30, Codec: CodecH264, Container: "mp4"}}
	v := FromPath("source.mp4", runner)
	v.SetInterval(Interval{Unit: UnitFrames, Start: 0, Stop: 6, Step: 2})
	v.AddFrameOp(image.Resize{Width: 2, Height: 2})

	frames, err := v.Frames()
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{0, 2, 4}, runner.extracted)
	assert.Equal(t, 2, frames[0].Bounds().Dx())
	assert.Nil(t, v.interval)
}

func TestFramesWithoutIntervalDecodesWholeStream(t *testing.T) {
	runner := &fakeRunner{meta: Metadata{Width: 2, Height: 2, FrameCount: 4, FPS: 24, Codec: CodecH264, Container: "mp4"}}
	v := FromPath("source.mp4", runner)

	frames, err := v.Frames()
	require.NoError(t, err)
	assert.Len(t, frames, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, runner.extracted)
}

func TestPendingAsyncOpsSeparatesRemoteAndUserFrameOps(t *testing.T) {
	runner := &fakeRunner{meta: Metadata{Width: 2, Height: 2, FrameCount: 2}}
	v := FromPath("source.mp4", runner)
	v.AddFrameOp(image.Resize{Width: 2, Height: 2})
	v.AddFrameOp(image.RemoteOp{URL: "http://example/op"})
	v.AddFrameOp(image.UserOp{Name: "denoise"})

	async := v.PendingAsyncOps()
	require.Len(t, async, 2)
	require.Len(t, v.frameOps, 1)
}

func TestDecideEncodePathReuseWhenBothMatch(t *testing.T) {
	assert.Equal(t, PlanReuse, decideEncodePath("mp4", "H264", "mp4", "H264"))
}

func TestDecideEncodePathRemuxWhenOnlyContainerDiffers(t *testing.T) {
	assert.Equal(t, PlanRemux, decideEncodePath("webm", "H264", "mp4", "H264"))
}

func TestDecideEncodePathTranscodeWhenCodecDiffers(t *testing.T) {
	assert.Equal(t, PlanTranscode, decideEncodePath("mp4", "MJPG", "mp4", "H264"))
}

func TestDecideEncodePathDefaultsUnspecifiedToMP4H264(t *testing.T) {
	assert.Equal(t, PlanReuse, decideEncodePath("", "", "mp4", "H264"))
	assert.Equal(t, PlanTranscode, decideEncodePath("", "", "mp4", "MJPG"))
}

func TestEncodeForcesTranscodeWhenFrameOpsArePending(t *testing.T) {
	runner := &fakeRunner{meta: Metadata{Width: 2, Height: 2, FrameCount: 2, Codec: CodecH264, Container: "mp4"}}
	v := FromPath("source.mp4", runner)
	v.AddFrameOp(image.Resize{Width: 2, Height: 2})

	require.NoError(t, v.Encode("dest.mp4", "mp4", CodecH264))
	assert.Equal(t, "dest.mp4", runner.transcodedTo)
}

func TestEncodeRemuxesWhenOnlyContainerDiffers(t *testing.T) {
	runner := &fakeRunner{meta: Metadata{Width: 2, Height: 2, FrameCount: 2, Codec: CodecH264, Container: "mp4"}}
	v := FromPath("source.mp4", runner)

	require.NoError(t, v.Encode("dest.webm", "webm", CodecH264))
	assert.Equal(t, "dest.webm", runner.remuxedTo)
}

func TestFourccMappingIsBijective(t *testing.T) {
	for _, c := range []Codec{CodecMJPG, CodecXVID, CodecH263, CodecH264, CodecAVC1} {
		tag := Fourcc(c)
		assert.NotEmpty(t, tag)
	}
	assert.Equal(t, CodecH264, CodecFromFourcc("unknown-tag"))
}

func TestCheckMemoryBudgetAllowsZeroDimensions(t *testing.T) {
	assert.NoError(t, checkMemoryBudget(0, 0, 0))
}
