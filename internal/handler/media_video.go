package handler

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/intellabs/vdms-go/internal/storage"
	"github.com/intellabs/vdms-go/internal/video"
)

const tagVideo = "VDMS_VIDEO"

func containerFromExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return "mp4"
	}
	return ext
}

// addVideo stages the command's blob to a temp file (ffmpeg needs a real
// path, not a pipe, for container probing and seeking), queues any
// requested per-frame/interval operations on the Video, and re-encodes
// through Video.Encode to a fresh path under the videos root, per spec.md
// 4.H's AddVideo contract. Video.Encode does not apply the queued
// operations, so the stored stream has the source's frames.
func (d *Deps) addVideo(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	requestedContainer := getString(payload, "container")
	requestedCodec := video.Codec(getString(payload, "codec"))

	srcExt := containerFromExt(getString(payload, "format"))
	srcPath, err := d.Paths.TempFile(srcExt)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.WriteBlob(srcPath, ctx.Blob); err != nil {
		return nil, nil, err
	}

	runner := d.NewVideoRunner()
	v := video.FromPath(srcPath, runner)
	ops, interval, err := parseOperations(getArray(payload, "operations"))
	if err != nil {
		return nil, nil, err
	}
	for _, op := range ops {
		v.AddFrameOp(op)
	}
	asyncOps := v.PendingAsyncOps()
	if interval != nil {
		v.SetInterval(*interval)
	}

	if requestedContainer == "" {
		requestedContainer = "mp4"
	}
	dstPath, err := d.Paths.NewVideoPath(requestedContainer)
	if err != nil {
		return nil, nil, err
	}
	if err := v.Encode(dstPath, requestedContainer, requestedCodec); err != nil {
		return nil, nil, err
	}
	if encoded, err := storage.ReadBlob(dstPath); err == nil {
		_ = d.Paths.MirrorArtifact(context.Background(), dstPath, encoded)
	}

	// A video's async ops complete once for the whole artifact rather
	// than once per frame (the wire protocol has no per-frame callback,
	// spec.md §9): dispatch them against the encoded output's first
	// frame. A failed extraction here just drops the async ops, the
	// same best-effort contract PendingAsyncOps already has.
	if len(asyncOps) > 0 {
		if frame, ferr := runner.ExtractFrame(dstPath, 0); ferr == nil {
			enqueueAsyncOps(ctx, asyncOps, frame, image.FormatJPEG, "", tagVideo, model.PropVideoPath, dstPath)
		}
	}

	props := getObject(payload, "properties")
	if props == nil {
		props = map[string]interface{}{}
	}
	props[model.PropVideoPath] = dstPath

	link, err := compileLink(payload, "")
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	nodeRef := getRef(payload)
	group, err := b.AddNode(nodeRef, tagVideo, props, nil)
	if err != nil {
		return nil, nil, err
	}
	if link != nil {
		if _, err := b.AddEdge(0, nodeRef, link.Ref, link.Class, nil); err != nil {
			return nil, nil, err
		}
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

func (d *Deps) updateVideo(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	set := getObject(payload, "properties")
	remove := stringSliceFrom(getArray(payload, "remove_props"))
	constraints, err := querybuilder.CompileConstraints(getObject(payload, "constraints"))
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	group, err := b.UpdateNode(getRef(payload), tagVideo, set, remove, constraints, false)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

// findVideo mirrors findImage: query, then (when requested) queue the
// op list on the stored path and encode it into a single blob for the
// response envelope, using decideEncodePath to avoid an unnecessary
// transcode when the client asks for the source's own container/codec.
// Video.Encode does not apply the queued ops to the returned blob.
func (d *Deps) findVideo(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	constraints, resultsSpec, err := compileConstraintsResults(payload)
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	group, err := b.QueryNode(getRef(payload), tagVideo, nil, constraints, resultsSpec, false)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	result := resultFor(results, group)
	frag := querybuilder.ToResponseFragment(result)

	if !wantsBlob(resultsSpec) || result == nil || len(result.Entities) == 0 {
		return frag, nil, nil
	}

	path, _ := result.Entities[0][model.PropVideoPath].(string)
	if path == "" {
		return frag, nil, nil
	}

	v := video.FromPath(path, d.NewVideoRunner())
	ops, interval, err := parseOperations(getArray(payload, "operations"))
	if err != nil {
		return nil, nil, err
	}
	for _, op := range ops {
		v.AddFrameOp(op)
	}
	if interval != nil {
		v.SetInterval(*interval)
	}

	requestedContainer := getString(payload, "container")
	requestedCodec := video.Codec(getString(payload, "codec"))
	if requestedContainer == "" {
		requestedContainer = containerFromExt(filepath.Ext(path))
	}

	dstPath, err := d.Paths.TempFile(requestedContainer)
	if err != nil {
		return nil, nil, err
	}
	if err := v.Encode(dstPath, requestedContainer, requestedCodec); err != nil {
		return nil, nil, err
	}
	blob, err := storage.ReadBlob(dstPath)
	if err != nil {
		return nil, nil, err
	}

	result.Entities[0]["blob"] = true
	return frag, blob, nil
}
