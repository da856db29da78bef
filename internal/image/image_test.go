package image

import (
	goimage "image"
	"image/color"
	"image/jpeg"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestMaterializeAppliesOpsInOrderThenClears(t *testing.T) {
	im := FromBuffer(encodeTestJPEG(t, 10, 10), FormatJPEG)
	im.AddOp(Resize{Width: 4, Height: 4})
	im.AddOp(Crop{X: 0, Y: 0, Width: 2, Height: 2})

	frame, err := im.Materialize()
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Bounds().Dx())
	assert.Empty(t, im.ops)
}

func TestCropOutOfBoundsErrors(t *testing.T) {
	im := FromBuffer(encodeTestJPEG(t, 4, 4), FormatJPEG)
	im.AddOp(Crop{X: 10, Y: 10, Width: 5, Height: 5})

	_, err := im.Materialize()
	assert.Error(t, err)
}

func TestThresholdBlacksOutDarkPixels(t *testing.T) {
	img := goimage.NewRGBA(goimage.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.Gray{Y: 10})
	out, err := Threshold{Value: 50}.Apply(img)
	require.NoError(t, err)
	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
}

func TestPendingAsyncOpsSeparatesRemoteAndUserOps(t *testing.T) {
	im := FromBuffer(encodeTestJPEG(t, 4, 4), FormatJPEG)
	im.AddOp(Resize{Width: 2, Height: 2})
	im.AddOp(RemoteOp{URL: "http://example/op"})
	im.AddOp(UserOp{Name: "denoise"})

	async := im.PendingAsyncOps()
	require.Len(t, async, 2)
	require.Len(t, im.ops, 1)
}

func TestEncodeRoundTripsToPNG(t *testing.T) {
	im := FromBuffer(encodeTestJPEG(t, 4, 4), FormatJPEG)
	out, err := im.Encode(FormatPNG)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
