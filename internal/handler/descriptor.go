package handler

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/intellabs/vdms-go/internal/metrics"
	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/intellabs/vdms-go/internal/vdmserr"
)

// vectorsFromBlob decodes a blob of little-endian float32 values into
// row-major vectors of the set's configured dimension - the wire
// representation spec.md leaves as an opaque blob, resolved here the
// same way the rest of this codebase resolves silent spec points: the
// simplest fixed-width binary encoding, since no pack example imposes a
// richer one for this exact payload shape.
func vectorsFromBlob(blob []byte, dim int) ([][]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("descriptor: set dimension must be positive")
	}
	stride := dim * 4
	if len(blob)%stride != 0 {
		return nil, fmt.Errorf("descriptor: blob length %d is not a multiple of dimension %d", len(blob), dim)
	}
	n := len(blob) / stride
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(blob[i*stride+j*4:])
			row[j] = math.Float32frombits(bits)
		}
		out[i] = row
	}
	return out, nil
}

func descriptorSetTag() string { return model.TagDescriptorSet }
func descriptorTag() string    { return model.TagDescriptor }

// lookupDescriptorSet resolves a descriptor set's graph-visible metadata
// by name, required before any add/search/classify touches the
// backing engine (spec.md 4.E "the path property points to a directory
// whose eng_info.txt matches the engine used at creation").
func (d *Deps) lookupDescriptorSet(ctx *Context, name string) (*model.DescriptorSet, error) {
	constraints, err := querybuilder.CompileConstraints(map[string]interface{}{
		"name": []interface{}{"==", name},
	})
	if err != nil {
		return nil, err
	}
	resultsSpec := &querybuilder.ResultsSpec{List: []string{"name", "dimensions", "engine", "metric", "path"}}

	b := querybuilder.NewBuilder()
	group, err := b.QueryNode(0, descriptorSetTag(), nil, constraints, resultsSpec, false)
	if err != nil {
		return nil, err
	}
	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, err
	}
	res := resultFor(results, group)
	if res == nil || len(res.Entities) == 0 {
		return nil, vdmserr.New(vdmserr.KindDescriptor, fmt.Sprintf("descriptor set %q not found", name))
	}

	row := res.Entities[0]
	dim, _ := row["dimensions"].(float64)
	return &model.DescriptorSet{
		Name:       name,
		Dimensions: int(dim),
		Engine:     fmt.Sprint(row["engine"]),
		Metric:     fmt.Sprint(row["metric"]),
		Path:       fmt.Sprint(row["path"]),
	}, nil
}

// addDescriptorSet persists a fresh set directory and inserts the set's
// graph node, spec.md 4.H "AddDescriptorSet: persist a fresh set
// directory; insert set node with name/dim/path".
func (d *Deps) addDescriptorSet(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	name := getString(payload, "name")
	dim, _ := getInt(payload, "dimensions")
	engine := descriptor.Engine(getString(payload, "engine"))
	if engine == "" {
		engine = descriptor.EngineFlat
	}
	metric := descriptor.Metric(getString(payload, "metric"))
	if metric == "" {
		metric = descriptor.MetricL2
	}

	var setPath string
	var err error
	if engine == descriptor.EngineFlat || engine == descriptor.EngineIVF {
		setPath = getString(payload, "path") // pgvector-backed engines address a DSN, not a filesystem path
	} else {
		setPath, err = d.Paths.NewDescriptorSetDir()
		if err != nil {
			return nil, nil, err
		}
	}

	if _, err := d.Descriptors.Create(setPath, engine, dim, metric); err != nil {
		return nil, nil, err
	}

	props := map[string]interface{}{
		"name":       name,
		"dimensions": float64(dim),
		"engine":     string(engine),
		"metric":     string(metric),
		"path":       setPath,
	}

	b := querybuilder.NewBuilder()
	group, err := b.AddNode(getRef(payload), descriptorSetTag(), props, nil)
	if err != nil {
		return nil, nil, err
	}
	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

// addDescriptor appends the blob's vector(s) to the named set and
// creates one descriptor node for the whole command, however many vectors
// it carries, spec.md 4.H. The node is linked only through the command's
// own link clause; no edge to the set's node is created.
func (d *Deps) addDescriptor(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	setName := getString(payload, "set")
	setMeta, err := d.lookupDescriptorSet(ctx, setName)
	if err != nil {
		return nil, nil, err
	}

	vectors, err := vectorsFromBlob(ctx.Blob, setMeta.Dimensions)
	if err != nil {
		return nil, nil, err
	}

	labelStr := getString(payload, "label")
	err = d.Descriptors.Acquire(setMeta.Path, descriptor.Engine(setMeta.Engine), setMeta.Dimensions, descriptor.Metric(setMeta.Metric), func(set descriptor.Set) error {
		var labels []int64
		if labelStr != "" {
			labelID := set.GetLabelID(labelStr)
			if labelID < 0 {
				labelsMap := set.GetLabelsMap()
				labelID = int64(len(labelsMap))
				labelsMap[labelID] = labelStr
				if err := set.SetLabelsMap(labelsMap); err != nil {
					return err
				}
			}
			labels = repeatLabel(labelID, len(vectors))
		}
		_, err := set.Add(vectors, labels)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	props := map[string]interface{}{"set": setName}
	b := querybuilder.NewBuilder()
	nodeRef := getRef(payload)
	group, err := b.AddNode(nodeRef, descriptorTag(), props, nil)
	if err != nil {
		return nil, nil, err
	}

	link, err := compileLink(payload, "")
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

func repeatLabel(id int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = id
	}
	return out
}

// findDescriptor dispatches on blob presence (spec.md 4.H): a blob means
// a k-NN or radius search against the set; its absence means an
// ordinary graph lookup over descriptor nodes.
func (d *Deps) findDescriptor(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	setName := getString(payload, "set")
	setMeta, err := d.lookupDescriptorSet(ctx, setName)
	if err != nil {
		return nil, nil, err
	}

	if ctx.Blob == nil {
		constraints, resultsSpec, err := compileConstraintsResults(payload)
		if err != nil {
			return nil, nil, err
		}
		b := querybuilder.NewBuilder()
		group, err := b.QueryNode(getRef(payload), descriptorTag(), nil, constraints, resultsSpec, false)
		if err != nil {
			return nil, nil, err
		}
		results, err := d.runProgram(ctx, b.Run())
		if err != nil {
			return nil, nil, err
		}
		return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
	}

	queries, err := vectorsFromBlob(ctx.Blob, setMeta.Dimensions)
	if err != nil {
		return nil, nil, err
	}

	k, hasK := getInt(payload, "k_neighbors")
	if !hasK {
		k = 1
	}
	radius, hasRadius := payload["radius"].(float64)

	var searchResults []descriptor.SearchResult
	start := time.Now()
	err = d.Descriptors.Acquire(setMeta.Path, descriptor.Engine(setMeta.Engine), setMeta.Dimensions, descriptor.Metric(setMeta.Metric), func(set descriptor.Set) error {
		if hasRadius {
			limit, _ := getInt(payload, "limit")
			if limit == 0 {
				limit = 100
			}
			res, err := set.RadiusSearch(queries[0], float32(radius), limit)
			searchResults = []descriptor.SearchResult{res}
			return err
		}
		var err error
		searchResults, err = set.Search(queries, k)
		return err
	})
	metrics.ObserveDescriptorSearch(setMeta.Engine, time.Since(start))
	if err != nil {
		return nil, nil, err
	}

	entities := make([]map[string]interface{}, 0, len(searchResults))
	for _, r := range searchResults {
		entities = append(entities, map[string]interface{}{
			"ids":       r.IDs,
			"distances": r.Distances,
		})
	}
	n := len(entities)
	frag := &querybuilder.ResponseFragment{Status: int(vdmserr.StatusSuccess), Entities: entities, Returned: &n}
	return frag, nil, nil
}

// classifyDescriptor majority-votes the label among the quorum nearest
// neighbors, spec.md 4.H.
func (d *Deps) classifyDescriptor(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	setName := getString(payload, "set")
	setMeta, err := d.lookupDescriptorSet(ctx, setName)
	if err != nil {
		return nil, nil, err
	}

	queries, err := vectorsFromBlob(ctx.Blob, setMeta.Dimensions)
	if err != nil {
		return nil, nil, err
	}

	quorum, hasQuorum := getInt(payload, "k_neighbors")
	if !hasQuorum {
		quorum = 1
	}

	var labelIDs []int64
	start := time.Now()
	err = d.Descriptors.Acquire(setMeta.Path, descriptor.Engine(setMeta.Engine), setMeta.Dimensions, descriptor.Metric(setMeta.Metric), func(set descriptor.Set) error {
		var err error
		labelIDs, err = set.Classify(queries, quorum)
		if err != nil {
			return err
		}
		return nil
	})
	metrics.ObserveDescriptorSearch(setMeta.Engine, time.Since(start))
	if err != nil {
		return nil, nil, err
	}

	var labels []string
	err = d.Descriptors.Acquire(setMeta.Path, descriptor.Engine(setMeta.Engine), setMeta.Dimensions, descriptor.Metric(setMeta.Metric), func(set descriptor.Set) error {
		labels = set.LabelIDToString(labelIDs)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	entities := make([]map[string]interface{}, len(labels))
	for i, l := range labels {
		entities[i] = map[string]interface{}{"label": l}
	}
	n := len(entities)
	frag := &querybuilder.ResponseFragment{Status: int(vdmserr.StatusSuccess), Entities: entities, Returned: &n}
	return frag, nil, nil
}
