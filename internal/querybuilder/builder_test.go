package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderRejectsDuplicateRef(t *testing.T) {
	b := NewBuilder()
	_, err := b.AddNode(1, "Patient", map[string]interface{}{"Name": "A"}, nil)
	require.NoError(t, err)

	_, err = b.QueryNode(1, "Patient", nil, nil, &ResultsSpec{}, false)
	assert.Error(t, err)
}

func TestBuilderRejectsReservedProperty(t *testing.T) {
	b := NewBuilder()
	_, err := b.AddNode(1, "Patient", map[string]interface{}{"VDMS_SECRET": "x"}, nil)
	assert.Error(t, err)
}

func TestBuilderRunMarksReadOnlyWithoutMutation(t *testing.T) {
	b := NewBuilder()
	_, err := b.QueryNode(1, "Patient", nil, nil, &ResultsSpec{}, false)
	require.NoError(t, err)

	prog := b.Run()
	assert.True(t, prog.ReadOnly)
	assert.Len(t, prog.Ops, 1)
}

func TestBuilderRunMarksMutationWhenAddNodePresent(t *testing.T) {
	b := NewBuilder()
	_, err := b.AddNode(1, "Patient", nil, nil)
	require.NoError(t, err)

	prog := b.Run()
	assert.False(t, prog.ReadOnly)
}

func TestCompileConstraintsRange(t *testing.T) {
	node, err := CompileConstraints(map[string]interface{}{
		"Age": []interface{}{">=", float64(18), "<", float64(65)},
	})
	require.NoError(t, err)
	require.NotNil(t, node.And)
	assert.Len(t, node.And, 2)
}

func TestCompileConstraintsOR(t *testing.T) {
	node, err := CompileConstraints(map[string]interface{}{
		"Name": []interface{}{"==", []interface{}{"A", "B"}},
	})
	require.NoError(t, err)
	require.NotNil(t, node.Or)
	assert.Len(t, node.Or, 2)
}

func TestCompileConstraintsRejectsRangeCombinedWithOR(t *testing.T) {
	_, err := CompileConstraints(map[string]interface{}{
		"Name": []interface{}{"==", []interface{}{"A", "B"}, "!=", "C"},
	})
	assert.Error(t, err)
}

func TestCompileResultsParsesSortLimitAndList(t *testing.T) {
	spec, err := CompileResults(map[string]interface{}{
		"sort":  map[string]interface{}{"key": "Age", "order": "descending"},
		"limit": float64(5),
		"list":  []interface{}{"Age", "Name"},
	})
	require.NoError(t, err)
	require.NotNil(t, spec.Sort)
	assert.Equal(t, Descending, spec.Sort.Order)
	require.NotNil(t, spec.Limit)
	assert.Equal(t, 5, *spec.Limit)
	assert.Equal(t, []string{"Age", "Name"}, spec.List)
}
