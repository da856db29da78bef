package handler

import (
	"testing"

	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectBuildsEdgeFromRef1ToRef2(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{
		"ref1":  float64(1),
		"ref2":  float64(2),
		"class": "knows",
	}
	_, _, err := d.connect(&Context{Graph: graph}, payload)
	require.NoError(t, err)

	require.Len(t, graph.programs, 1)
	edgeOp, ok := graph.programs[0].Ops[0].(querybuilder.AddEdgeOp)
	require.True(t, ok)
	assert.Equal(t, 1, edgeOp.SrcRef)
	assert.Equal(t, 2, edgeOp.DstRef)
	assert.Equal(t, "knows", edgeOp.Tag)
}

func TestFindConnectionCompilesConstraintsAndLink(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{
		"class":       "knows",
		"constraints": map[string]interface{}{"since": []interface{}{">=", float64(2020)}},
		"link":        map[string]interface{}{"ref": float64(3)},
	}
	_, _, err := d.findConnection(&Context{Graph: graph}, payload)
	require.NoError(t, err)
	assert.Len(t, graph.programs, 1)
}

func TestUpdateConnectionRemovesListedProperties(t *testing.T) {
	graph := &fakeGraph{results: []*querybuilder.GroupResult{success(0)}}
	d := &Deps{Paths: newTestPathManager(t)}

	payload := map[string]interface{}{
		"class":        "knows",
		"remove_props": []interface{}{"since"},
	}
	_, _, err := d.updateConnection(&Context{Graph: graph}, payload)
	require.NoError(t, err)

	updateOp, ok := graph.programs[0].Ops[0].(querybuilder.UpdateEdgeOp)
	require.True(t, ok)
	assert.Equal(t, []string{"since"}, updateOp.RemoveKeys)
}
