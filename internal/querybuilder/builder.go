// Package querybuilder compiles parsed command payloads into an ordered
// program of primitive graph operations (spec.md 4.C), grounded on
// original_source/src/PMGDQuery.cc's responsibility (translate the
// command layer's intent into a primitive op sequence over a
// transactional graph engine) - renamed throughout to this domain's own
// vocabulary.
package querybuilder

import (
	"fmt"

	"github.com/intellabs/vdms-go/internal/model"
)

// Builder accumulates primitive ops for a single command list (a single
// client transaction). Refs are local to one Builder instance, per
// spec.md 3 "Reference": unique within a command list, illegal to reuse
// across transactions.
type Builder struct {
	ops         []Op
	seenRefs    map[int]bool
	hasMutation bool
	nextGroup   int
}

func NewBuilder() *Builder {
	return &Builder{seenRefs: map[int]bool{}}
}

// reserveRef registers ref as used by this command list, and returns an
// error if it was already used - spec.md 3's "_ref is unique within a
// command list" invariant.
func (b *Builder) reserveRef(ref int) error {
	if ref == 0 {
		return nil // 0 means "no ref requested"
	}
	if b.seenRefs[ref] {
		return fmt.Errorf("ref %d is reused within this command list", ref)
	}
	b.seenRefs[ref] = true
	return nil
}

func (b *Builder) group() int {
	g := b.nextGroup
	b.nextGroup++
	return g
}

// AddNode appends an AddNodeOp. A non-nil unique predicate makes this a
// conditional add: the adapter looks the node up first and only creates
// it on a miss (spec.md 4.D).
func (b *Builder) AddNode(ref int, tag string, props map[string]interface{}, unique *PredicateNode) (int, error) {
	if err := b.reserveRef(ref); err != nil {
		return 0, err
	}
	typed, err := typedProperties(props)
	if err != nil {
		return 0, err
	}
	g := b.group()
	b.ops = append(b.ops, AddNodeOp{baseOp: baseOp{Group: g, Rf: ref}, Tag: tag, Properties: typed, Unique: unique})
	b.hasMutation = true
	return g, nil
}

// UpdateNode appends an UpdateNodeOp.
func (b *Builder) UpdateNode(ref int, tag string, set map[string]interface{}, remove []string, constraints *PredicateNode, unique bool) (int, error) {
	typed, err := typedProperties(set)
	if err != nil {
		return 0, err
	}
	g := b.group()
	b.ops = append(b.ops, UpdateNodeOp{
		baseOp: baseOp{Group: g, Rf: ref}, Tag: tag, SetProperties: typed,
		RemoveKeys: remove, Constraints: constraints, Unique: unique,
	})
	b.hasMutation = true
	return g, nil
}

// AddEdge appends an AddEdgeOp linking srcRef to dstRef.
func (b *Builder) AddEdge(ref, srcRef, dstRef int, tag string, props map[string]interface{}) (int, error) {
	if err := b.reserveRef(ref); err != nil {
		return 0, err
	}
	typed, err := typedProperties(props)
	if err != nil {
		return 0, err
	}
	g := b.group()
	b.ops = append(b.ops, AddEdgeOp{
		baseOp: baseOp{Group: g, Rf: ref}, SrcRef: srcRef, DstRef: dstRef,
		Tag: tag, Properties: typed,
	})
	b.hasMutation = true
	return g, nil
}

// UpdateEdge appends an UpdateEdgeOp.
func (b *Builder) UpdateEdge(ref int, tag string, set map[string]interface{}, remove []string, constraints *PredicateNode) (int, error) {
	typed, err := typedProperties(set)
	if err != nil {
		return 0, err
	}
	g := b.group()
	b.ops = append(b.ops, UpdateEdgeOp{
		baseOp: baseOp{Group: g, Rf: ref}, Tag: tag, SetProperties: typed,
		RemoveKeys: remove, Constraints: constraints,
	})
	b.hasMutation = true
	return g, nil
}

// QueryNode appends a QueryNodeOp.
func (b *Builder) QueryNode(ref int, tag string, link *LinkSpec, constraints *PredicateNode, results *ResultsSpec, unique bool) (int, error) {
	if err := b.reserveRef(ref); err != nil {
		return 0, err
	}
	g := b.group()
	b.ops = append(b.ops, QueryNodeOp{
		baseOp: baseOp{Group: g, Rf: ref}, Tag: tag, Link: link,
		Constraints: constraints, Results: results, Unique: unique,
	})
	return g, nil
}

// QueryEdge appends a QueryEdgeOp.
func (b *Builder) QueryEdge(ref int, tag string, link *LinkSpec, constraints *PredicateNode, results *ResultsSpec, unique bool) (int, error) {
	if err := b.reserveRef(ref); err != nil {
		return 0, err
	}
	g := b.group()
	b.ops = append(b.ops, QueryEdgeOp{
		baseOp: baseOp{Group: g, Rf: ref}, Tag: tag, Link: link,
		Constraints: constraints, Results: results, Unique: unique,
	})
	return g, nil
}

// AddLink compiles a "link" clause (spec.md 4.C) into a LinkSpec,
// defaulting direction to "any" as the spec requires.
func AddLink(raw map[string]interface{}, defaultTag string) (*LinkSpec, error) {
	if raw == nil {
		return nil, nil
	}
	refF, ok := raw["ref"].(float64)
	if !ok {
		return nil, fmt.Errorf("link.ref must be an integer")
	}
	spec := &LinkSpec{Ref: int(refF), Direction: DirAny, Class: defaultTag}
	if cls, ok := raw["class"].(string); ok {
		spec.Class = cls
	}
	if dir, ok := raw["direction"].(string); ok {
		spec.Direction = Direction(dir)
	}
	if uniq, ok := raw["unique"].(bool); ok {
		spec.Unique = uniq
	}
	return spec, nil
}

// Run finalizes the builder into a Program, ready for the graph engine
// adapter's Execute (spec.md 4.C "Transaction envelope": Begin is
// implicit in Execute, Commit happens on success, abort on any failure).
func (b *Builder) Run() *Program {
	return &Program{Ops: b.ops, ReadOnly: !b.hasMutation}
}

// typedProperties re-wraps a decoded JSON properties object into the
// engine's typed property representation, rejecting any key the client
// should never set directly (spec.md 3 "reserved property names").
func typedProperties(raw map[string]interface{}) (map[string]model.PropertyValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]model.PropertyValue, len(raw))
	for k, v := range raw {
		if len(k) >= len(model.ReservedPropertyPrefix) && k[:len(model.ReservedPropertyPrefix)] == model.ReservedPropertyPrefix {
			return nil, fmt.Errorf("property %q uses the reserved %q prefix", k, model.ReservedPropertyPrefix)
		}
		pv, err := wrapTypedValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = pv
	}
	return out, nil
}
