package handler

import (
	"context"
	"strings"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

const tagImage = "VDMS_IMAGE"

func formatFromString(s string) image.Format {
	if strings.EqualFold(s, "png") {
		return image.FormatPNG
	}
	return image.FormatJPEG
}

func extForFormat(f image.Format) string {
	if f == image.FormatPNG {
		return "png"
	}
	return "jpg"
}

// addImage constructs an image.Image from the command's blob, applies
// any requested operations, stores the materialized bytes under the
// images root, and creates the graph node carrying its path (spec.md
// 4.H "AddImage: media object constructed from blob, op list enqueued,
// stored under media root, graph node created, optional link added").
func (d *Deps) addImage(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	format := formatFromString(getString(payload, "format"))
	im := image.FromBuffer(ctx.Blob, format)

	ops, interval, err := parseOperations(getArray(payload, "operations"))
	if err != nil {
		return nil, nil, err
	}
	if interval != nil {
		return nil, nil, errIntervalOnImage
	}
	for _, op := range ops {
		im.AddOp(op)
	}
	asyncOps := im.PendingAsyncOps()

	encoded, err := im.Encode(format)
	if err != nil {
		return nil, nil, err
	}

	path, err := d.Paths.NewImagePath(extForFormat(format))
	if err != nil {
		return nil, nil, err
	}
	if err := d.Paths.Persist(context.Background(), path, encoded); err != nil {
		return nil, nil, err
	}
	enqueueAsyncOps(ctx, asyncOps, im.Frame(), format, path, tagImage, model.PropImagePath, path)

	props := getObject(payload, "properties")
	if props == nil {
		props = map[string]interface{}{}
	}
	props[model.PropImagePath] = path

	link, err := compileLink(payload, "")
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	nodeRef := getRef(payload)
	group, err := b.AddNode(nodeRef, tagImage, props, nil)
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

func (d *Deps) updateImage(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	set := getObject(payload, "properties")
	remove := stringSliceFrom(getArray(payload, "remove_props"))
	constraints, err := querybuilder.CompileConstraints(getObject(payload, "constraints"))
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	group, err := b.UpdateNode(getRef(payload), tagImage, set, remove, constraints, false)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

// wantsBlob reports whether the results.list clause asks for the raw
// bytes of each matched artifact, spec.md 4.H's "optionally re-apply ops
// to produce per-result blob" path.
func wantsBlob(spec *querybuilder.ResultsSpec) bool {
	if spec == nil {
		return false
	}
	for _, k := range spec.List {
		if strings.EqualFold(k, "blob") {
			return true
		}
	}
	return false
}

func (d *Deps) findImage(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	constraints, resultsSpec, err := compileConstraintsResults(payload)
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	group, err := b.QueryNode(getRef(payload), tagImage, nil, constraints, resultsSpec, false)
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

	path, _ := result.Entities[0][model.PropImagePath].(string)
	if path == "" {
		return frag, nil, nil
	}

	format := formatFromString(getString(payload, "format"))
	im := image.FromPath(path, format)
	ops, interval, err := parseOperations(getArray(payload, "operations"))
	if err != nil {
		return nil, nil, err
	}
	if interval != nil {
		return nil, nil, errIntervalOnImage
	}
	for _, op := range ops {
		im.AddOp(op)
	}
	blob, err := im.Encode(format)
	if err != nil {
		return nil, nil, err
	}
	result.Entities[0]["blob"] = true
	return frag, blob, nil
}
