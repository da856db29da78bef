package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandListAndValidateBatch(t *testing.T) {
	cmds, err := ParseCommandList(`[{"AddEntity":{"class":"Patient","_ref":1,"properties":{"Name":"A","Age":30}}},
		{"FindEntity":{"class":"Patient","constraints":{"Name":["==","A"]},"results":{"list":["Age"]}}}]`)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, AddEntity, cmds[0].Name)
	assert.Equal(t, FindEntity, cmds[1].Name)

	require.NoError(t, ValidateBatch(cmds, 0))
}

func TestParseCommandListRejectsMultiKeyElement(t *testing.T) {
	_, err := ParseCommandList(`[{"AddEntity":{},"FindEntity":{}}]`)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, verr.Index)
}

func TestParseCommandListRejectsUnknownCommand(t *testing.T) {
	_, err := ParseCommandList(`[{"DeleteEverything":{}}]`)
	require.Error(t, err)
}

func TestValidateBatchRejectsMissingRequiredField(t *testing.T) {
	cmds, err := ParseCommandList(`[{"AddEntity":{}}]`)
	require.NoError(t, err)
	err = ValidateBatch(cmds, 0)
	require.Error(t, err)
}

func TestValidateBatchRejectsBlobCountMismatch(t *testing.T) {
	cmds, err := ParseCommandList(`[{"AddImage":{}}]`)
	require.NoError(t, err)
	err = ValidateBatch(cmds, 0)
	require.Error(t, err)

	require.NoError(t, ValidateBatch(cmds, 1))
}

func TestValidateConstraintsRejectsBadClauseLength(t *testing.T) {
	cmds, err := ParseCommandList(`[{"FindEntity":{"constraints":{"Age":["==",1,">",2,"extra"]}}}]`)
	require.NoError(t, err)
	err = ValidateBatch(cmds, 0)
	require.Error(t, err)
}

func TestValidateOperationsRejectsUnknownType(t *testing.T) {
	cmds, err := ParseCommandList(`[{"AddImage":{"operations":[{"type":"rotate"}]}}]`)
	require.NoError(t, err)
	err = ValidateBatch(cmds, 1)
	require.Error(t, err)
}
