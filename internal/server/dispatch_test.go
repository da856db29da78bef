package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/intellabs/vdms-go/internal/command"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/intellabs/vdms-go/internal/wireproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraphSession and fakeGraphStore stand in for a real
// graphengine.Session/Engine pair so dispatch tests never touch
// PostgreSQL/AGE. One fakeGraphSession is shared by every command in an
// envelope, the same way a real Session is, so these tests also exercise
// Commit/Rollback being called exactly once per Handle call.
type fakeGraphSession struct {
	committed, rolledBack int
}

func (s *fakeGraphSession) Execute(ctx context.Context, prog *querybuilder.Program) ([]*querybuilder.GroupResult, error) {
	return nil, nil
}
func (s *fakeGraphSession) Commit() error   { s.committed++; return nil }
func (s *fakeGraphSession) Rollback() error { s.rolledBack++; return nil }

type fakeGraphStore struct {
	sessions []*fakeGraphSession
}

func (f *fakeGraphStore) Begin(ctx context.Context, readOnly bool) (GraphSession, error) {
	s := &fakeGraphSession{}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func init() {
	command.RegisterHandler(command.AddEntity, func(ctx *command.Context, payload map[string]interface{}) (interface{}, []byte, error) {
		return map[string]interface{}{"status": 0}, nil, nil
	})
	command.RegisterHandler(command.FindEntity, func(ctx *command.Context, payload map[string]interface{}) (interface{}, []byte, error) {
		return map[string]interface{}{"status": 0, "entities": []interface{}{}}, nil, nil
	})
}

func TestDispatcherHandleReturnsOrderedResponses(t *testing.T) {
	store := &fakeGraphStore{}
	d := NewDispatcher(store)
	req := &wireproto.Envelope{JSON: `[{"AddEntity":{"class":"Foo"}},{"FindEntity":{}}]`}

	resp := d.Handle(context.Background(), req, nil)

	var parsed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &parsed))
	require.Len(t, parsed, 2)
	_, ok := parsed[0]["AddEntity"]
	assert.True(t, ok)
	_, ok = parsed[1]["FindEntity"]
	assert.True(t, ok)

	// Both commands must share the one session opened for this
	// envelope, per spec.md 4.C, committed exactly once at the end.
	require.Len(t, store.sessions, 1)
	assert.Equal(t, 1, store.sessions[0].committed)
	assert.Equal(t, 0, store.sessions[0].rolledBack)
}

func TestDispatcherHandleProtocolErrorOnBadJSON(t *testing.T) {
	d := NewDispatcher(&fakeGraphStore{})
	req := &wireproto.Envelope{JSON: `not json`}

	resp := d.Handle(context.Background(), req, nil)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &parsed))
	assert.Equal(t, float64(-1), parsed["status"])
	assert.NotEmpty(t, parsed["info"])
}

func TestDispatcherHandleProtocolErrorOnBlobCountMismatch(t *testing.T) {
	d := NewDispatcher(&fakeGraphStore{})
	req := &wireproto.Envelope{JSON: `[{"AddImage":{}}]`} // AddImage declares BlobNeeded, none supplied

	resp := d.Handle(context.Background(), req, nil)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &parsed))
	assert.Equal(t, float64(-1), parsed["status"])
}

// TestDispatcherHandleCapturesHandlerError confirms spec.md 8
// "Atomicity": one command's failure rolls back the whole envelope's
// shared session and collapses the response to a single top-level
// error object, not a per-command fragment sitting in a response array.
func TestDispatcherHandleCapturesHandlerError(t *testing.T) {
	command.RegisterHandler(command.FindConnection, func(ctx *command.Context, payload map[string]interface{}) (interface{}, []byte, error) {
		return nil, nil, assertError("boom")
	})
	store := &fakeGraphStore{}
	d := NewDispatcher(store)
	req := &wireproto.Envelope{JSON: `[{"FindConnection":{}}]`}

	resp := d.Handle(context.Background(), req, nil)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &parsed))
	assert.Equal(t, float64(-1), parsed["status"])
	assert.Contains(t, parsed["info"], "boom")

	require.Len(t, store.sessions, 1)
	assert.Equal(t, 1, store.sessions[0].rolledBack)
	assert.Equal(t, 0, store.sessions[0].committed)
}

type assertError string

func (e assertError) Error() string { return string(e) }
