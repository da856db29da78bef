package handler

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDescriptorSet struct {
	added     [][]float32
	labels    []int64
	labelsMap map[int64]string
	searchRes []descriptor.SearchResult
	classify  []int64
}

func (f *fakeDescriptorSet) Add(vectors [][]float32, labels []int64) (int64, error) {
	first := int64(len(f.added))
	f.added = append(f.added, vectors...)
	f.labels = append(f.labels, labels...)
	return first, nil
}
func (f *fakeDescriptorSet) Search(queries [][]float32, k int) ([]descriptor.SearchResult, error) {
	return f.searchRes, nil
}
func (f *fakeDescriptorSet) RadiusSearch(query []float32, radius float32, limit int) (descriptor.SearchResult, error) {
	if len(f.searchRes) > 0 {
		return f.searchRes[0], nil
	}
	return descriptor.SearchResult{}, nil
}
func (f *fakeDescriptorSet) Classify(queries [][]float32, quorum int) ([]int64, error) {
	return f.classify, nil
}
func (f *fakeDescriptorSet) GetDescriptors(ids []int64) ([][]float32, error) { return nil, nil }
func (f *fakeDescriptorSet) Train([][]float32) error                        { return descriptor.ErrNotImplemented }
func (f *fakeDescriptorSet) FinalizeIndex() error                           { return nil }
func (f *fakeDescriptorSet) Store(string) error                             { return nil }
func (f *fakeDescriptorSet) Dimensions() int                                { return 4 }
func (f *fakeDescriptorSet) Metric() descriptor.Metric                      { return descriptor.MetricL2 }
func (f *fakeDescriptorSet) EngineName() descriptor.Engine                  { return descriptor.EngineDense }
func (f *fakeDescriptorSet) Count() int64                                   { return int64(len(f.added)) }
func (f *fakeDescriptorSet) SetLabelsMap(labels map[int64]string) error {
	f.labelsMap = labels
	return nil
}
func (f *fakeDescriptorSet) GetLabelsMap() map[int64]string {
	if f.labelsMap == nil {
		f.labelsMap = map[int64]string{}
	}
	return f.labelsMap
}
func (f *fakeDescriptorSet) LabelIDToString(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = f.labelsMap[id]
	}
	return out
}
func (f *fakeDescriptorSet) GetLabelID(label string) int64 {
	for id, l := range f.labelsMap {
		if l == label {
			return id
		}
	}
	return -1
}
func (f *fakeDescriptorSet) Close() error { return nil }

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func newTestManager(t *testing.T, set *fakeDescriptorSet) *descriptor.Manager {
	t.Helper()
	m := descriptor.NewManager()
	m.RegisterEngine(descriptor.EngineDense,
		func(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) { return set, nil },
		func(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) { return set, nil },
	)
	return m
}

func setMetadataResult(name string, dim int) *querybuilder.GroupResult {
	return success(0, map[string]interface{}{
		"name":       name,
		"dimensions": float64(dim),
		"engine":     "Dense",
		"metric":     "L2",
		"path":       "/tmp/set-path",
	})
}

func TestAddDescriptorSetCreatesDirectoryAndGraphNode(t *testing.T) {
	set := &fakeDescriptorSet{}
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := &Deps{Descriptors: newTestManager(t, set), Paths: newTestPathManager(t)}

	payload := map[string]interface{}{
		"name":       "faces",
		"dimensions": float64(4),
		"engine":     "Dense",
		"metric":     "L2",
	}
	_, blob, err := d.addDescriptorSet(&Context{Graph: graph}, payload)
	require.NoError(t, err)
	assert.Nil(t, blob)
	require.Len(t, graph.programs, 1)
}

func TestAddDescriptorAppendsVectorToSet(t *testing.T) {
	set := &fakeDescriptorSet{}
	graph := &fakeGraph{sequence: [][]*querybuilder.GroupResult{
		{setMetadataResult("faces", 4)},
		{success(0)},
	}}
	d := &Deps{Descriptors: newTestManager(t, set), Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"set": "faces"}
	vector := []float32{1, 2, 3, 4}
	_, _, err := d.addDescriptor(&Context{Blob: encodeVector(vector), Graph: graph}, payload)
	require.NoError(t, err)
	require.Len(t, set.added, 1)
	assert.Equal(t, vector, set.added[0])
}

func TestAddDescriptorWithLabelAssignsLabelID(t *testing.T) {
	set := &fakeDescriptorSet{}
	graph := &fakeGraph{sequence: [][]*querybuilder.GroupResult{
		{setMetadataResult("faces", 4)},
		{success(0)},
	}}
	d := &Deps{Descriptors: newTestManager(t, set), Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"set": "faces", "label": "alice"}
	_, _, err := d.addDescriptor(&Context{Blob: encodeVector([]float32{1, 2, 3, 4}), Graph: graph}, payload)
	require.NoError(t, err)
	require.Len(t, set.labels, 1)
	assert.Equal(t, "alice", set.labelsMap[set.labels[0]])
}

func TestFindDescriptorWithoutBlobQueriesGraph(t *testing.T) {
	set := &fakeDescriptorSet{}
	graph := &fakeGraph{sequence: [][]*querybuilder.GroupResult{
		{setMetadataResult("faces", 4)},
		{success(0, map[string]interface{}{"set": "faces"})},
	}}
	d := &Deps{Descriptors: newTestManager(t, set), Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"set": "faces"}
	frag, blob, err := d.findDescriptor(&Context{Graph: graph}, payload)
	require.NoError(t, err)
	assert.Nil(t, blob)
	require.NotNil(t, frag)
	assert.Equal(t, "faces", frag.Entities[0]["set"])
}

func TestFindDescriptorWithBlobRunsKNNSearch(t *testing.T) {
	set := &fakeDescriptorSet{searchRes: []descriptor.SearchResult{{IDs: []int64{1, 2}, Distances: []float32{0.1, 0.2}}}}
	graph := &fakeGraph{sequence: [][]*querybuilder.GroupResult{
		{setMetadataResult("faces", 4)},
	}}
	d := &Deps{Descriptors: newTestManager(t, set), Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"set": "faces", "k_neighbors": float64(2)}
	frag, _, err := d.findDescriptor(&Context{Blob: encodeVector([]float32{1, 2, 3, 4}), Graph: graph}, payload)
	require.NoError(t, err)
	require.Len(t, frag.Entities, 1)
	assert.Equal(t, []int64{1, 2}, frag.Entities[0]["ids"])
}

func TestClassifyDescriptorMajorityVotesLabel(t *testing.T) {
	set := &fakeDescriptorSet{classify: []int64{0}, labelsMap: map[int64]string{0: "alice"}}
	graph := &fakeGraph{sequence: [][]*querybuilder.GroupResult{
		{setMetadataResult("faces", 4)},
	}}
	d := &Deps{Descriptors: newTestManager(t, set), Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"set": "faces"}
	frag, _, err := d.classifyDescriptor(&Context{Blob: encodeVector([]float32{1, 2, 3, 4}), Graph: graph}, payload)
	require.NoError(t, err)
	require.Len(t, frag.Entities, 1)
	assert.Equal(t, "alice", frag.Entities[0]["label"])
}

func TestLookupDescriptorSetErrorsWhenNotFound(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := &Deps{Descriptors: descriptor.NewManager(), Paths: newTestPathManager(t)}

	_, _, err := d.addDescriptor(&Context{Blob: encodeVector([]float32{1, 2, 3, 4}), Graph: graph}, map[string]interface{}{"set": "missing"})
	assert.Error(t, err)
}
