package handler

import (
	"context"

	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

// addEntity builds a single AddNodeOp from the command's class/properties/
// optional unique constraint, and - when a blob accompanies the command -
// persists it under the blob root first, stamping its path into a
// reserved property (spec.md 4.H "AddEntity: optional blob -> persisted
// under blob root, path stored in reserved property").
func (d *Deps) addEntity(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	class := getString(payload, "class")
	props := getObject(payload, "properties")
	if props == nil {
		props = map[string]interface{}{}
	}

	if ctx.Blob != nil {
		path, err := d.Paths.NewBlobPath("bin")
		if err != nil {
			return nil, nil, err
		}
		if err := d.Paths.Persist(context.Background(), path, ctx.Blob); err != nil {
			return nil, nil, err
		}
		props[model.PropImagePath] = path
	}

	unique, err := compileUniqueConstraint(payload)
	if err != nil {
		return nil, nil, err
	}

	b := querybuilder.NewBuilder()
	group, err := b.AddNode(getRef(payload), class, props, unique)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

// compileUniqueConstraint compiles the "if_not_found" style unique
// predicate used by conditional AddEntity (spec.md 4.D
// "Reusable iterators"): the same constraints-language shape, nested
// under a dedicated key so it doesn't collide with find-style
// constraints.
func compileUniqueConstraint(payload map[string]interface{}) (*querybuilder.PredicateNode, error) {
	raw := getObject(payload, "unique")
	if raw == nil {
		return nil, nil
	}
	return querybuilder.CompileConstraints(raw)
}

func (d *Deps) updateEntity(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
	class := getString(payload, "class")
	set := getObject(payload, "properties")
	remove := stringSliceFrom(getArray(payload, "remove_props"))
	constraints, err := querybuilder.CompileConstraints(getObject(payload, "constraints"))
	if err != nil {
		return nil, nil, err
	}
	unique, _ := payload["unique"].(bool)

	b := querybuilder.NewBuilder()
	group, err := b.UpdateNode(getRef(payload), class, set, remove, constraints, unique)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

func (d *Deps) findEntity(ctx *Context, payload map[string]interface{}) (interface{}, []byte, error) {
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
	group, err := b.QueryNode(getRef(payload), class, link, constraints, resultsSpec, unique)
	if err != nil {
		return nil, nil, err
	}

	results, err := d.runProgram(ctx, b.Run())
	if err != nil {
		return nil, nil, err
	}
	return querybuilder.ToResponseFragment(resultFor(results, group)), nil, nil
}

func stringSliceFrom(raw []interface{}) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
