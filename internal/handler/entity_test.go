package handler

import (
	"testing"

	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEntityBuildsNodeFromClassAndProperties(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0, map[string]interface{}{"name": "Alice"})}}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{
		"class":      "Person",
		"properties": map[string]interface{}{"name": "Alice"},
	}
	frag, blob, err := d.addEntity(&Context{Graph: graph}, payload)
	require.NoError(t, err)
	assert.Nil(t, blob)
	require.Len(t, graph.programs, 1)
	assert.False(t, graph.programs[0].ReadOnly)
	assert.NotNil(t, frag)
}

func TestAddEntityWithBlobStampsImagePathProperty(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"class": "Blob"}
	_, _, err := d.addEntity(&Context{Blob: []byte("hello"), Graph: graph}, payload)
	require.NoError(t, err)

	require.Len(t, graph.programs, 1)
	addOp, ok := graph.programs[0].Ops[0].(querybuilder.AddNodeOp)
	require.True(t, ok)
	prop, ok := addOp.Properties[model.PropImagePath]
	require.True(t, ok)
	assert.NotEmpty(t, prop)
}

func TestFindEntityReturnsFragmentFromMatchingGroup(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0, map[string]interface{}{"name": "Bob"})}}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{"class": "Person"}
	frag, _, err := d.findEntity(&Context{Graph: graph}, payload)
	require.NoError(t, err)
	require.NotNil(t, frag.Entities)
	assert.Equal(t, "Bob", frag.Entities[0]["name"])
}

func TestUpdateEntityRejectsInvalidConstraints(t *testing.T) {
	graph := &fakeGraph{}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{
		"class":       "Person",
		"constraints": map[string]interface{}{"age": []interface{}{"bogus-op", float64(1)}},
	}
	_, _, err := d.updateEntity(&Context{Graph: graph}, payload)
	assert.Error(t, err)
	assert.Empty(t, graph.programs)
}
