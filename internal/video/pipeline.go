package video

import (
	goimage "image"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/vdmserr"
	"github.com/prometheus/procfs"
)

// Video is a deferred video operation pipeline: a source path plus
// per-frame ops (applied to every decoded frame in order, spec.md 4.F
// reused for 4.G) and stream-level ops that act on the frame sequence
// as a whole.
type Video struct {
	Path   string
	Runner Runner

	meta      Metadata
	metaKnown bool

	frameOps []image.Op
	interval *Interval
}

// FromPath wraps an on-disk video for lazy decode/transcode.
func FromPath(path string, runner Runner) *Video {
	return &Video{Path: path, Runner: runner}
}

// AddFrameOp queues a per-frame pixel transform, applied to every
// decoded frame in the same order as internal/image's Materialize.
// RemoteOp/UserOp frame ops are recorded but skipped during Frames;
// PendingAsyncOps extracts them for the caller to dispatch, matching
// internal/image's async-op split.
func (v *Video) AddFrameOp(op image.Op) { v.frameOps = append(v.frameOps, op) }

// PendingAsyncOps returns and clears any queued RemoteOp/UserOp, same
// contract as image.Image.PendingAsyncOps.
func (v *Video) PendingAsyncOps() []image.Op {
	var async, sync []image.Op
	for _, op := range v.frameOps {
		switch op.(type) {
		case image.RemoteOp, image.UserOp:
			async = append(async, op)
		default:
			sync = append(sync, op)
		}
	}
	v.frameOps = sync
	return async
}

// SetInterval queues the stream-level sampling op of spec.md 4.G. Only
// one Interval may be pending at a time; a later call replaces the
// earlier one.
func (v *Video) SetInterval(iv Interval) { v.interval = &iv }

// Metadata probes (and caches) the source stream's container/codec and
// geometry.
func (v *Video) Metadata() (Metadata, error) {
	if v.metaKnown {
		return v.meta, nil
	}
	meta, err := v.Runner.Probe(v.Path)
	if err != nil {
		return Metadata{}, err
	}
	v.meta = meta
	v.metaKnown = true
	return meta, nil
}

// Frames decodes the frame set implied by the pending Interval (or the
// whole stream if none was queued), applying the per-frame op list to
// each, key-frame-aware: frames are pulled only for the indexes the
// interval actually keeps rather than decoding the full stream first.
func (v *Video) Frames() ([]goimage.Image, error) {
	meta, err := v.Metadata()
	if err != nil {
		return nil, err
	}

	indexes := make([]int, meta.FrameCount)
	for i := range indexes {
		indexes[i] = i
	}
	if v.interval != nil {
		if err := v.interval.Validate(meta.FrameCount); err != nil {
			return nil, err
		}
		indexes = v.interval.Frames()
	}

	if err := checkMemoryBudget(meta.Width, meta.Height, len(indexes)); err != nil {
		return nil, err
	}

	frames := make([]goimage.Image, 0, len(indexes))
	for _, idx := range indexes {
		frame, err := v.Runner.ExtractFrame(v.Path, idx)
		if err != nil {
			return nil, err
		}
		for _, op := range v.frameOps {
			frame, err = op.Apply(frame)
			if err != nil {
				return nil, err
			}
		}
		frames = append(frames, frame)
	}
	v.interval = nil
	return frames, nil
}

// EncodePlan is the outcome of decideEncodePath: what action the
// encoder must take to satisfy a requested (container, codec) pair.
type EncodePlan string

const (
	// PlanReuse serves the stored bytes unmodified: container and codec
	// both already match the request.
	PlanReuse EncodePlan = "reuse"
	// PlanRemux repackages the existing bitstream into a different
	// container without re-encoding: codec matches, container doesn't.
	PlanRemux EncodePlan = "remux"
	// PlanTranscode fully re-encodes: the codec itself doesn't match.
	PlanTranscode EncodePlan = "transcode"
)

// decideEncodePath replaces the "string manipulation of the path"
// heuristic the original get_encoded used with an explicit decision
// table, per SPEC_FULL.md's redesign-flag decision: an unspecified
// requestedContainer/requestedCodec defaults to mp4/H264 before the
// comparison, matching spec.md 4.G's default container/codec rule.
func decideEncodePath(requestedContainer, requestedCodec, sourceContainer, sourceCodec string) EncodePlan {
	if requestedContainer == "" {
		requestedContainer = defaultContainer
	}
	if requestedCodec == "" {
		requestedCodec = string(CodecH264)
	}
	if sourceContainer == "" {
		sourceContainer = defaultContainer
	}
	if sourceCodec == "" {
		sourceCodec = string(CodecH264)
	}

	if requestedCodec != sourceCodec {
		return PlanTranscode
	}
	if requestedContainer != sourceContainer {
		return PlanRemux
	}
	return PlanReuse
}

// Encode produces dstPath for the requested container/codec from the
// source stream, taking the cheapest path decideEncodePath allows. Pending
// frame ops and a pending Interval are not applied to the output; when
// any are pending, Encode forces a full transcode of the unmodified
// source stream.
func (v *Video) Encode(dstPath, requestedContainer string, requestedCodec Codec) error {
	meta, err := v.Metadata()
	if err != nil {
		return err
	}

	plan := decideEncodePath(requestedContainer, string(requestedCodec), meta.Container, string(meta.Codec))

	if len(v.frameOps) > 0 || v.interval != nil {
		plan = PlanTranscode
	}

	switch plan {
	case PlanReuse:
		return copyFile(v.Path, dstPath)
	case PlanRemux:
		return v.Runner.Remux(v.Path, dstPath, requestedContainer)
	default:
		return v.Runner.Transcode(v.Path, dstPath, requestedContainer, requestedCodec)
	}
}

const bytesPerPixel = 3

// checkMemoryBudget guards the width x height x 3 x frame_count decode
// buffer against available system memory before the encoder opens,
// spec.md 4.G's memory guard. Grounded on prometheus/procfs (already a
// dependency of the metrics stack) for /proc/meminfo access rather than
// a hand-rolled syscall, since the corpus's own metrics layer reads
// this file through procfs.
func checkMemoryBudget(width, height, frameCount int) error {
	if width <= 0 || height <= 0 || frameCount <= 0 {
		return nil
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil
	}
	mem, err := fs.Meminfo()
	if err != nil || mem.MemAvailable == nil {
		return nil
	}

	required := uint64(width) * uint64(height) * bytesPerPixel * uint64(frameCount)
	availableBytes := *mem.MemAvailable * 1024
	if required > availableBytes {
		return vdmserr.New(vdmserr.KindMedia, "insufficient memory to decode requested frame range")
	}
	return nil
}
