package handler

import (
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

// connect handles both Connect and AddConnection - spec.md's command
// schema lists them as separate top-level names but gives them
// identical semantics (an edge between two previously referenced
// nodes), so they share one implementation.
func (d *Deps) connect(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	ref1, _ := getInt(payload, "ref1")
	ref2, _ := getInt(payload, "ref2")
	class := getString(payload, "class")
	props := getObject(payload, "properties")

	b := querybuilder.NewBuilder()
	group, err := b.AddEdge(getRef(payload), ref1, ref2, class, props)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

func (d *Deps) findConnection(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	class := getString(payload, "class")
	constraints, resultsSpec, err := compileConstraintsResults(payload)
	if err != nil {
		return nil, nil, err
	}
	link, err := compileLink(payload, "")
	if err != nil {
		return nil, nil, err
	}
	unique, _ := payload["unique"].(bool)

	b := querybuilder.NewBuilder()
	group, err := b.QueryEdge(getRef(payload), class, link, constraints, resultsSpec, unique)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

func (d *Deps) updateConnection(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	class := getString(payload, "class")
	set := getObject(payload, "properties")
	remove := stringSliceFrom(getArray(payload, "remove_props"))
	constraints, err := querybuilder.CompileConstraints(getObject(payload, "constraints"))
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	group, err := b.UpdateEdge(getRef(payload), class, set, remove, constraints)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}
