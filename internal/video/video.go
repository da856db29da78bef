// Package video implements the deferred video operation pipeline of
// spec.md 4.G: the same op-list model as internal/image, with frames
// consumed from the source stream instead of a single decoded matrix,
// plus stream-level ops (Interval, remote/user) that run between
// per-frame decode-encode loops. Grounded on
// adverant-Adverant-Nexus-Plugin-VideoAgent/src/worker/internal/utils/ffmpeg.go
// for shelling out to ffmpeg/ffprobe, and on
// internal/extractor/frame_extractor.go for the per-frame processing
// loop shape.
package video

import (
	"bytes"
	"encoding/json"
	goimage "image"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/vdmserr"
	"github.com/intellabs/vdms-go/internal/video/keyframe"
)

// Codec names the bijective fourcc mapping of spec.md 4.G.
type Codec string

const (
	CodecMJPG Codec = "MJPG"
	CodecXVID Codec = "XVID"
	CodecH263 Codec = "H263"
	CodecH264 Codec = "H264"
	CodecAVC1 Codec = "AVC1"
)

var fourccByCodec = map[Codec]string{
	CodecMJPG: "MJPG",
	CodecXVID: "XVID",
	CodecH263: "H263",
	CodecH264: "H264",
	CodecAVC1: "avc1",
}

var codecByFourcc = map[string]Codec{
	"MJPG": CodecMJPG,
	"XVID": CodecXVID,
	"H263": CodecH263,
	"H264": CodecH264,
	"avc1": CodecAVC1,
}

// Fourcc returns the wire tag for a codec; unspecified codecs default to
// H264 per spec.md 4.G.
func Fourcc(c Codec) string {
	if c == "" {
		c = CodecH264
	}
	if tag, ok := fourccByCodec[c]; ok {
		return tag
	}
	return fourccByCodec[CodecH264]
}

// CodecFromFourcc reverses Fourcc, used when inspecting a source
// stream's codec tag.
func CodecFromFourcc(tag string) Codec {
	if c, ok := codecByFourcc[tag]; ok {
		return c
	}
	return CodecH264
}

const defaultContainer = "mp4"

// Unit is an Interval's time base; only FRAMES is supported (spec.md
// 4.G).
type Unit string

const UnitFrames Unit = "FRAMES"

// Interval is the stream-level sampling op of spec.md 4.G: keep frames
// in [Start, Stop) stepping by Step. Encode does not apply it, and the
// output frame rate is not adjusted.
type Interval struct {
	Unit  Unit
	Start int
	Stop  int
	Step  int
}

// Validate enforces spec.md 4.G's Interval invariants against a known
// frame count.
func (iv Interval) Validate(frameCount int) error {
	if iv.Unit != UnitFrames {
		return vdmserr.New(vdmserr.KindMedia, "interval: only FRAMES unit is supported")
	}
	if iv.Start < 0 || iv.Start >= frameCount {
		return vdmserr.New(vdmserr.KindMedia, "interval: start out of range")
	}
	if iv.Stop <= iv.Start || iv.Stop > frameCount {
		return vdmserr.New(vdmserr.KindMedia, "interval: stop out of range")
	}
	if iv.Step < 1 {
		return vdmserr.New(vdmserr.KindMedia, "interval: step must be >= 1")
	}
	return nil
}

// Frames enumerates the frame indexes this interval keeps.
func (iv Interval) Frames() []int {
	var out []int
	for i := iv.Start; i < iv.Stop; i += iv.Step {
		out = append(out, i)
	}
	return out
}

// Metadata is the subset of ffprobe's output the pipeline needs,
// grounded on FFmpegHelper.GetVideoMetadata's parsed fields.
type Metadata struct {
	Width      int
	Height     int
	FPS        float64
	Duration   float64
	FrameCount int
	Codec      Codec
	Container  string
}

// Runner shells out to ffmpeg/ffprobe; tests substitute a fake to avoid
// depending on the binaries being installed.
type Runner interface {
	Probe(path string) (Metadata, error)
	ExtractFrame(path string, frameIndex int) (goimage.Image, error)
	Transcode(srcPath, dstPath string, container string, codec Codec) error
	Remux(srcPath, dstPath string, container string) error
}

// FFmpegRunner is the production Runner, shelling out to ffmpeg/ffprobe
// exactly as FFmpegHelper does.
type FFmpegRunner struct {
	FFmpegPath  string
	FFprobePath string

	keyframeMu    sync.Mutex
	keyframeCache map[string]*keyframe.Index
}

func NewFFmpegRunner() (*FFmpegRunner, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, vdmserr.Wrap(vdmserr.KindMedia, err, "ffmpeg not found in PATH")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, vdmserr.Wrap(vdmserr.KindMedia, err, "ffprobe not found in PATH")
	}
	return &FFmpegRunner{
		FFmpegPath:    ffmpegPath,
		FFprobePath:   ffprobePath,
		keyframeCache: map[string]*keyframe.Index{},
	}, nil
}

// keyframeIndex returns path's cached keyframe.Index, building it with
// ffprobe on first use. A build failure is swallowed: ExtractFrame falls
// back to decoding from the start of the stream rather than failing the
// whole request over an index it can live without.
func (r *FFmpegRunner) keyframeIndex(path string) *keyframe.Index {
	r.keyframeMu.Lock()
	defer r.keyframeMu.Unlock()

	if idx, ok := r.keyframeCache[path]; ok {
		return idx
	}
	idx, err := keyframe.Build(r.FFprobePath, path)
	if err != nil {
		idx = nil
	}
	r.keyframeCache[path] = idx
	return idx
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (r *FFmpegRunner) Probe(path string) (Metadata, error) {
	cmd := exec.Command(r.FFprobePath, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, vdmserr.Wrap(vdmserr.KindMedia, err, "ffprobe failed")
	}
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return Metadata{}, vdmserr.Wrap(vdmserr.KindMedia, err, "parsing ffprobe output")
	}

	meta := Metadata{Container: probe.Format.FormatName}
	if probe.Format.Duration != "" {
		meta.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		meta.Width, meta.Height = s.Width, s.Height
		meta.Codec = codecFromCodecName(s.CodecName)
		if parts := strings.Split(s.RFrameRate, "/"); len(parts) == 2 {
			num, _ := strconv.ParseFloat(parts[0], 64)
			den, _ := strconv.ParseFloat(parts[1], 64)
			if den > 0 {
				meta.FPS = num / den
			}
		}
		if s.NbFrames != "" {
			meta.FrameCount, _ = strconv.Atoi(s.NbFrames)
		}
		break
	}
	if meta.FrameCount == 0 && meta.FPS > 0 {
		meta.FrameCount = int(meta.Duration * meta.FPS)
	}
	return meta, nil
}

func codecFromCodecName(name string) Codec {
	switch strings.ToLower(name) {
	case "mjpeg":
		return CodecMJPG
	case "h263":
		return CodecH263
	case "h264":
		return CodecH264
	default:
		return CodecH264
	}
}

// ExtractFrame decodes the frame at frameIndex, seeking ffmpeg to the
// nearest preceding key frame (spec.md 4.G "Key-frame decoding") rather
// than decoding the stream from its start every time: -ss before -i asks
// ffmpeg to seek its demuxer directly to that key frame's timestamp, and
// the select filter's frame-number predicate is rebased to count from
// there, so only the frames between the key frame and frameIndex are
// actually decoded.
func (r *FFmpegRunner) ExtractFrame(path string, frameIndex int) (goimage.Image, error) {
	seekSeconds, offset := r.keyframeIndex(path).Nearest(frameIndex)

	args := []string{}
	if seekSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(seekSeconds, 'f', -1, 64))
	}
	args = append(args,
		"-i", path,
		"-vf", "select='eq(n\\,"+strconv.Itoa(offset)+")'",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	)

	cmd := exec.Command(r.FFmpegPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, vdmserr.Wrap(vdmserr.KindMedia, err, "extracting frame")
	}
	im := image.FromBuffer(out.Bytes(), image.FormatJPEG)
	return im.Materialize()
}

func (r *FFmpegRunner) Transcode(srcPath, dstPath, container string, codec Codec) error {
	cmd := exec.Command(r.FFmpegPath, "-i", srcPath, "-vcodec", strings.ToLower(string(codec)), "-f", container, "-y", dstPath)
	if err := cmd.Run(); err != nil {
		return vdmserr.Wrap(vdmserr.KindMedia, err, "transcoding video")
	}
	return nil
}

func (r *FFmpegRunner) Remux(srcPath, dstPath, container string) error {
	cmd := exec.Command(r.FFmpegPath, "-i", srcPath, "-c", "copy", "-f", container, "-y", dstPath)
	if err := cmd.Run(); err != nil {
		return vdmserr.Wrap(vdmserr.KindMedia, err, "remuxing video")
	}
	return nil
}
