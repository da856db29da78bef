package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intellabs/vdms-go/internal/command"
	"github.com/intellabs/vdms-go/internal/metrics"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/intellabs/vdms-go/internal/vdmserr"
	"github.com/intellabs/vdms-go/internal/wireproto"
)

// GraphSession is the per-envelope handle a Dispatcher commits or rolls
// back exactly once, after every command in the list has run.
type GraphSession interface {
	command.GraphSession
	Commit() error
	Rollback() error
}

// GraphStore opens the single transaction and ref cache that spans one
// client envelope, per spec.md 4.C "Transaction envelope" - every
// command in the envelope's list shares the one Session a call to Begin
// returns, so a later command's link can resolve a ref an earlier
// command in the same list cached.
type GraphStore interface {
	Begin(ctx context.Context, readOnly bool) (GraphSession, error)
}

// Dispatcher turns one request envelope into one response envelope per
// spec.md 4.B: parse the command list, validate the whole batch against
// the schema (no handler runs on a validation failure), open one graph
// session for the whole list, then run each command's registered
// handler in list order against that shared session, assembling either
// a JSON array of per-command response fragments or, on a protocol- or
// transaction-level failure, a single top-level error object (spec.md 7
// "Protocol" errors never reach the handlers; spec.md 8 "Atomicity"
// requires that a failing command leave no trace of itself or any
// command that ran earlier in the same envelope).
type Dispatcher struct {
	blobNeeded map[command.Name]bool
	isMutation map[command.Name]bool
	graph      GraphStore
}

// NewDispatcher snapshots the command registry's BlobNeeded/IsMutation
// flags once at startup so per-request dispatch never has to walk the
// registry, and binds the GraphStore every envelope opens its shared
// session from.
func NewDispatcher(graph GraphStore) *Dispatcher {
	d := &Dispatcher{
		blobNeeded: map[command.Name]bool{},
		isMutation: map[command.Name]bool{},
		graph:      graph,
	}
	for _, desc := range command.Descriptors() {
		d.blobNeeded[desc.Name] = desc.BlobNeeded
		d.isMutation[desc.Name] = desc.IsMutation
	}
	return d
}

// Handle runs req's command list and returns the response envelope to
// send back on the wire. async is the calling session's own async-op
// dispatcher (spec.md §9), bound onto every command's Context so
// AddImage/AddVideo can hand off a queued RemoteOp/UserOp without the
// Dispatcher itself knowing anything about sessions.
func (d *Dispatcher) Handle(ctx context.Context, req *wireproto.Envelope, async command.AsyncEnqueuer) *wireproto.Envelope {
	cmds, err := command.ParseCommandList(req.JSON)
	if err != nil {
		return protocolErrorEnvelope(err)
	}
	if err := command.ValidateBatch(cmds, len(req.Blobs)); err != nil {
		return protocolErrorEnvelope(err)
	}

	session, err := d.graph.Begin(ctx, !d.batchMutates(cmds))
	if err != nil {
		return protocolErrorEnvelope(fmt.Errorf("opening graph session: %w", err))
	}

	responses := make([]map[string]interface{}, 0, len(cmds))
	var blobs [][]byte
	blobIdx := 0

	for i, cmd := range cmds {
		handler, ok := command.Lookup(cmd.Name)
		if !ok {
			session.Rollback()
			return protocolErrorEnvelope(fmt.Errorf("no handler registered for %s", cmd.Name))
		}

		cctx := &command.Context{Index: i, Graph: session, Async: async}
		if d.blobNeeded[cmd.Name] && blobIdx < len(req.Blobs) {
			cctx.Blob = req.Blobs[blobIdx]
			blobIdx++
		}

		start := time.Now()
		result, blob, err := handler(cctx, cmd.Payload)
		metrics.ObserveTransaction(time.Since(start))

		if err != nil {
			metrics.ObserveCommand(string(cmd.Name), int(vdmserr.StatusError))
			session.Rollback()
			return protocolErrorEnvelope(fmt.Errorf("command %d (%s): %s", i, cmd.Name, vdmserr.AsError(err).Message))
		}

		metrics.ObserveCommand(string(cmd.Name), resultStatus(result))
		responses = append(responses, map[string]interface{}{string(cmd.Name): result})
		if blob != nil {
			blobs = append(blobs, blob)
		}
	}

	if err := session.Commit(); err != nil {
		return protocolErrorEnvelope(fmt.Errorf("committing graph session: %w", err))
	}

	body, err := json.Marshal(responses)
	if err != nil {
		return protocolErrorEnvelope(err)
	}
	return &wireproto.Envelope{JSON: string(body), Blobs: blobs}
}

// batchMutates reports whether any command in cmds may write graph
// state, so Begin can open a read-only transaction for pure query
// envelopes.
func (d *Dispatcher) batchMutates(cmds []command.RawCommand) bool {
	for _, cmd := range cmds {
		if d.isMutation[cmd.Name] {
			return true
		}
	}
	return false
}

// resultStatus extracts the wire status code from a handler's result for
// metrics labeling; handlers that return something other than the usual
// *querybuilder.ResponseFragment (none currently do) are reported as
// success, since reaching this point already means no error occurred.
func resultStatus(result interface{}) int {
	if frag, ok := result.(*querybuilder.ResponseFragment); ok {
		return frag.Status
	}
	return int(vdmserr.StatusSuccess)
}

// protocolErrorEnvelope builds the single top-level error object spec.md
// 7 reserves for protocol-level failures (malformed envelope, wrong blob
// count, JSON parse, schema validation) and the one spec.md 8
// "Atomicity" reserves for a failing command's whole-envelope rollback -
// in both cases no per-command fragment exists to carry the failure.
func protocolErrorEnvelope(err error) *wireproto.Envelope {
	body, marshalErr := json.Marshal(map[string]interface{}{
		"status": int(vdmserr.StatusError),
		"info":   err.Error(),
	})
	if marshalErr != nil {
		// err.Error() is always valid JSON-safe text once quoted; this
		// path only triggers if json.Marshal itself is broken.
		body = []byte(`{"status":-1,"info":"internal error encoding failure response"}`)
	}
	return &wireproto.Envelope{JSON: string(body)}
}
