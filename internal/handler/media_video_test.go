package handler

import (
	goimage "image"
	"os"
	"testing"

	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/intellabs/vdms-go/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVideoRunner stubs video.Runner so AddVideo/FindVideo tests never
// shell out to a real ffmpeg binary.
type fakeVideoRunner struct {
	meta         video.Metadata
	transcodedTo string
	remuxedTo    string
}

func (f *fakeVideoRunner) Probe(path string) (video.Metadata, error) { return f.meta, nil }

func (f *fakeVideoRunner) ExtractFrame(path string, frameIndex int) (goimage.Image, error) {
	return goimage.NewRGBA(goimage.Rect(0, 0, f.meta.Width, f.meta.Height)), nil
}

func (f *fakeVideoRunner) Transcode(srcPath, dstPath, container string, codec video.Codec) error {
	f.transcodedTo = dstPath
	return os.WriteFile(dstPath, []byte("transcoded"), 0o644)
}

func (f *fakeVideoRunner) Remux(srcPath, dstPath, container string) error {
	f.remuxedTo = dstPath
	return os.WriteFile(dstPath, []byte("remuxed"), 0o644)
}

func newFakeVideoDeps(t *testing.T, graph *fakeGraph, meta video.Metadata) *Deps {
	t.Helper()
	return &Deps{
		Paths: newTestPathManager(t),
		NewVideoRunner: func() video.Runner {
			return &fakeVideoRunner{meta: meta}
		},
	}
}

func TestAddVideoStagesBlobAndStampsPathProperty(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := newFakeVideoDeps(t, graph, video.Metadata{Width: 4, Height: 4, FrameCount: 10, Codec: video.CodecH264, Container: "mp4"})

	payload := map[string]interface{}{"container": "mp4", "codec": "H264"}
	_, blob, err := d.addVideo(&Context{Blob: []byte("not-really-a-video"), Graph: graph}, payload)
	require.NoError(t, err)
	assert.Nil(t, blob)

	addOp, ok := graph.programs[0].Ops[0].(querybuilder.AddNodeOp)
	require.True(t, ok)
	pathProp, ok := addOp.Properties[model.PropVideoPath]
	require.True(t, ok)
	assert.NotEmpty(t, pathProp)
}

func TestFindVideoOmitsBlobWhenNotRequested(t *testing.T) {
	result := success(0, map[string]interface{}{model.PropVideoPath: "/tmp/does-not-matter.mp4"})
	graph := &fakeGraph{results: []*querybuilder.GroupResult{result}}
	d := newFakeVideoDeps(t, graph, video.Metadata{Width: 2, Height: 2, FrameCount: 2, Codec: video.CodecH264, Container: "mp4"})

	frag, blob, err := d.findVideo(&Context{Graph: graph}, map[string]interface{}{})
	require.NoError(t, err)
	assert.NotNil(t, frag)
	assert.Nil(t, blob)
}
