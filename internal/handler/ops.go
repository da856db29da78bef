package handler

import (
	"fmt"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/video"
)

// parseOperations compiles the "operations" array of spec.md section 6
// into the internal/image.Op pipeline plus an optional stream-level
// Interval, shared by the image and video handlers since both pipelines
// accept the same per-frame op vocabulary.
func parseOperations(raw []interface{}) ([]image.Op, *video.Interval, error) {
	var ops []image.Op
	var interval *video.Interval

	for i, elem := range raw {
		spec, ok := elem.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("operations[%d]: expected an object", i)
		}
		kind, _ := spec["type"].(string)
		switch kind {
		case "resize":
			w, _ := getInt(spec, "width")
			h, _ := getInt(spec, "height")
			ops = append(ops, image.Resize{Width: w, Height: h})
		case "crop":
			x, _ := getInt(spec, "x")
			y, _ := getInt(spec, "y")
			w, _ := getInt(spec, "width")
			h, _ := getInt(spec, "height")
			ops = append(ops, image.Crop{X: x, Y: y, Width: w, Height: h})
		case "threshold":
			v, _ := getInt(spec, "value")
			ops = append(ops, image.Threshold{Value: uint8(v)})
		case "syncremoteOp":
			ops = append(ops, image.SyncRemoteOp{URL: getString(spec, "url"), Params: stringMap(getObject(spec, "params"))})
		case "remoteOp":
			ops = append(ops, image.RemoteOp{URL: getString(spec, "url"), Params: stringMap(getObject(spec, "params"))})
		case "userOp":
			ops = append(ops, image.UserOp{Name: getString(spec, "name"), Params: stringMap(getObject(spec, "params"))})
		case "interval":
			if interval != nil {
				return nil, nil, fmt.Errorf("operations[%d]: only one interval op is allowed", i)
			}
			start, _ := getInt(spec, "start")
			stop, _ := getInt(spec, "stop")
			step, hasStep := getInt(spec, "step")
			if !hasStep {
				step = 1
			}
			interval = &video.Interval{Unit: video.UnitFrames, Start: start, Stop: stop, Step: step}
		default:
			return nil, nil, fmt.Errorf("operations[%d]: unrecognized op type %q", i, kind)
		}
	}
	return ops, interval, nil
}

func stringMap(raw map[string]interface{}) map[string]string {
	if raw == nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
