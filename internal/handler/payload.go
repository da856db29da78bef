package handler

import (
	"fmt"

	"github.com/intellabs/vdms-go/internal/querybuilder"
)

func getString(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func getRef(payload map[string]interface{}) int {
	if f, ok := payload["_ref"].(float64); ok {
		return int(f)
	}
	return 0
}

func getInt(payload map[string]interface{}, key string) (int, bool) {
	f, ok := payload[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func getObject(payload map[string]interface{}, key string) map[string]interface{} {
	if m, ok := payload[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func getArray(payload map[string]interface{}, key string) []interface{} {
	if a, ok := payload[key].([]interface{}); ok {
		return a
	}
	return nil
}

// compileConstraintsResults is the shared "constraints + results" parse
// every query-shaped handler (FindEntity, FindConnection, FindImage,
// FindVideo) needs, per spec.md 4.C.
func compileConstraintsResults(payload map[string]interface{}) (*querybuilder.PredicateNode, *querybuilder.ResultsSpec, error) {
	constraints, err := querybuilder.CompileConstraints(getObject(payload, "constraints"))
	if err != nil {
		return nil, nil, fmt.Errorf("constraints: %w", err)
	}
	results, err := querybuilder.CompileResults(getObject(payload, "results"))
	if err != nil {
		return nil, nil, fmt.Errorf("results: %w", err)
	}
	return constraints, results, nil
}

// compileLink parses the shared "link" sub-schema of spec.md section 6,
// defaulting the edge tag to defaultTag when the link doesn't name one.
func compileLink(payload map[string]interface{}, defaultTag string) (*querybuilder.LinkSpec, error) {
	return querybuilder.AddLink(getObject(payload, "link"), defaultTag)
}

// entitiesFromResult converts a GroupResult's entity rows (already
// shaped by the graph engine adapter) straight through; handlers only
// need to decide status/info/blob attachment on top.
func entitiesFromResult(r *querybuilder.GroupResult) []map[string]interface{} {
	if r == nil {
		return nil
	}
	return r.Entities
}
