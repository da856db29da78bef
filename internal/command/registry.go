// Package command implements the schema-validating command parser of
// spec.md section 4.B: it recognizes the closed set of command kinds
// enumerated in section 6, validates each element's shape, and dispatches
// to the handler registered for it. Grounded on original_source's
// RSCommand.cc/h base contract (does this command carry a blob, is it a
// mutation) generalized into a Descriptor struct per registered command.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/intellabs/vdms-go/internal/asyncop"
	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/ohler55/ojg/jp"
)

// Name is one of the closed set of recognized top-level command kinds.
type Name string

const (
	AddEntity          Name = "AddEntity"
	UpdateEntity       Name = "UpdateEntity"
	FindEntity         Name = "FindEntity"
	Connect            Name = "Connect"
	AddConnection      Name = "AddConnection"
	FindConnection     Name = "FindConnection"
	UpdateConnection   Name = "UpdateConnection"
	AddImage           Name = "AddImage"
	UpdateImage        Name = "UpdateImage"
	FindImage          Name = "FindImage"
	AddVideo           Name = "AddVideo"
	UpdateVideo        Name = "UpdateVideo"
	FindVideo          Name = "FindVideo"
	AddDescriptorSet   Name = "AddDescriptorSet"
	AddDescriptor      Name = "AddDescriptor"
	FindDescriptor     Name = "FindDescriptor"
	ClassifyDescriptor Name = "ClassifyDescriptor"
)

// Descriptor declares the static contract of one registered command:
// whether it consumes a blob from the envelope's blob array, and whether
// it may mutate graph/descriptor/media state (used by the query builder
// to decide whether a batch needs a read-write transaction).
type Descriptor struct {
	Name        Name
	BlobNeeded  bool
	IsMutation  bool
	RequiredKeys []string
}

// Handler processes one parsed command and returns a JSON-marshalable
// response fragment plus any blob that belongs in the response envelope.
type Handler func(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error)

// GraphSession is the one graphengine.Session contract a handler needs:
// run a Program against the envelope's shared transaction and cache.
// Commit/Rollback belong to whoever opened the session (the dispatcher),
// never to an individual handler, so a later command's AddEdge can still
// resolve a ref an earlier command in the same envelope cached.
type GraphSession interface {
	Execute(ctx context.Context, prog *querybuilder.Program) ([]*querybuilder.GroupResult, error)
}

// AsyncEnqueuer is the one asyncop.Dispatcher capability a handler
// needs: hand off a RemoteOp/UserOp item for dispatch outside the
// envelope's own transaction, per spec.md §9 "Async remote ops".
type AsyncEnqueuer interface {
	Enqueue(item asyncop.Item)
}

// Context carries the per-command inputs a handler needs beyond its own
// JSON payload: the blob supplied for this command (if BlobNeeded), this
// command's position in the client's command list (used for error
// reporting and response ordering), the graph session shared by every
// command in the same envelope (spec.md 4.C "Transaction envelope"), and
// the session-owned async dispatcher any RemoteOp/UserOp it queues is
// drained by.
type Context struct {
	Index int
	Blob  []byte
	Graph GraphSession
	Async AsyncEnqueuer
}

var (
	registry = map[Name]*Descriptor{}
	handlers = map[Name]Handler{}
)

func init() {
	register(&Descriptor{Name: AddEntity, RequiredKeys: []string{"class"}, IsMutation: true})
	register(&Descriptor{Name: UpdateEntity, RequiredKeys: []string{"class"}, IsMutation: true})
	register(&Descriptor{Name: FindEntity, RequiredKeys: []string{}})
	register(&Descriptor{Name: Connect, RequiredKeys: []string{"ref1", "ref2", "class"}, IsMutation: true})
	register(&Descriptor{Name: AddConnection, RequiredKeys: []string{"ref1", "ref2", "class"}, IsMutation: true})
	register(&Descriptor{Name: FindConnection, RequiredKeys: []string{}})
	register(&Descriptor{Name: UpdateConnection, RequiredKeys: []string{}, IsMutation: true})
	register(&Descriptor{Name: AddImage, BlobNeeded: true, IsMutation: true})
	register(&Descriptor{Name: UpdateImage, RequiredKeys: []string{}, IsMutation: true})
	register(&Descriptor{Name: FindImage, RequiredKeys: []string{}})
	register(&Descriptor{Name: AddVideo, BlobNeeded: true, IsMutation: true})
	register(&Descriptor{Name: UpdateVideo, RequiredKeys: []string{}, IsMutation: true})
	register(&Descriptor{Name: FindVideo, RequiredKeys: []string{}})
	register(&Descriptor{Name: AddDescriptorSet, RequiredKeys: []string{"name", "dimensions"}, IsMutation: true})
	register(&Descriptor{Name: AddDescriptor, RequiredKeys: []string{"set"}, BlobNeeded: true, IsMutation: true})
	register(&Descriptor{Name: FindDescriptor, RequiredKeys: []string{"set"}})
	register(&Descriptor{Name: ClassifyDescriptor, RequiredKeys: []string{"set"}, BlobNeeded: true})
}

func register(d *Descriptor) {
	registry[d.Name] = d
}

// RegisterHandler wires a handler function into the dispatch table for a
// given command name. Called once at startup by internal/handler's
// init/Wire function, keeping internal/command free of a dependency on
// internal/handler (and so free of cycles).
func RegisterHandler(name Name, h Handler) {
	handlers[name] = h
}

// Lookup returns the handler registered for name, or false if none is
// wired yet (a registered schema Descriptor with no handler is a
// programming error the caller should treat as fatal at startup).
func Lookup(name Name) (Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// Descriptors returns a stable-ordered snapshot of the registered command
// descriptors, primarily for diagnostics and tests.
func Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RawCommand is one parsed element of the client's command list: the
// single recognized top-level key plus its payload object.
type RawCommand struct {
	Name    Name
	Payload map[string]interface{}
}

// ParseCommandList parses the top-level JSON array into RawCommands
// without yet validating individual field shapes - that is ValidateBatch's
// job, so a single structural error (not a JSON array, or not exactly one
// key per element) can be reported with the failing element's index
// before any handler runs, per spec.md 4.B.
func ParseCommandList(jsonStr string) ([]RawCommand, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("command list is not a JSON array of objects: %w", err)
	}

	out := make([]RawCommand, 0, len(raw))
	for i, elem := range raw {
		if len(elem) != 1 {
			return nil, &ValidationError{Index: i, Message: fmt.Sprintf("expected exactly one command key, got %d", len(elem))}
		}
		for k, v := range elem {
			payload, ok := v.(map[string]interface{})
			if !ok {
				return nil, &ValidationError{Index: i, Message: fmt.Sprintf("command %q payload must be an object", k)}
			}
			name := Name(k)
			if _, known := registry[name]; !known {
				return nil, &ValidationError{Index: i, Message: fmt.Sprintf("unrecognized command %q", k)}
			}
			out = append(out, RawCommand{Name: name, Payload: payload})
		}
	}
	return out, nil
}

// ValidationError is the structured schema-validation failure of spec.md
// 4.B: it carries the index of the offending element and a human-readable
// description; no handler runs when this is returned.
type ValidationError struct {
	Index   int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %d: %s", e.Index, e.Message)
}

// jsonPath is a small helper wrapping ojg/jp for the generic shape checks
// ValidateBatch performs below - looking inside free-form
// properties/constraints/results objects without a fixed Go struct to
// unmarshal into, the same way agentic-research-mache's JsonWalker walks
// arbitrary JSON via JSONPath.
func jsonPath(expr string, root interface{}) []interface{} {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil
	}
	return x.Get(root)
}
