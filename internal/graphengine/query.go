package graphengine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

func (e *Engine) queryNode(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.QueryNodeOp) (*querybuilder.GroupResult, error) {
	ids, err := e.resolveMatches(ctx, tx, "n", op.Tag, op.Link, op.Constraints, cache)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	if op.Unique && len(ids) > 1 {
		return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeNotUnique, Message: "query matched more than one node"}, nil
	}
	entities, err := e.loadEntities(ctx, tx, ids)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	cache.setNodes(op.Ref(), ids, op.Unique)
	return buildGroupResult(op.GroupID(), ids, entities, op.Results)
}

func (e *Engine) queryEdge(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.QueryEdgeOp) (*querybuilder.GroupResult, error) {
	ids, err := e.resolveMatches(ctx, tx, "e", op.Tag, op.Link, op.Constraints, cache)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	if op.Unique && len(ids) > 1 {
		return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeNotUnique, Message: "query matched more than one edge"}, nil
	}
	entities, err := e.loadEdgeEntities(ctx, tx, ids)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	cache.setEdges(op.Ref(), ids)
	return buildGroupResult(op.GroupID(), ids, entities, op.Results)
}

// resolveMatches runs the MATCH clause for a QueryNode/QueryEdge op,
// following a link through a previously cached ref when one is present
// (spec.md 4.C "Links"), and returns the matched element ids.
func (e *Engine) resolveMatches(ctx context.Context, tx *sql.Tx, alias, tag string, link *querybuilder.LinkSpec, constraints *querybuilder.PredicateNode, cache *iteratorCache) ([]int64, error) {
	where := compilePredicate(alias, constraints)
	tagPart := ""
	if tag != "" {
		tagPart = ":" + cypherIdentRaw(tag)
	}

	var cypher string
	if link != nil {
		origin, ok := cache.get(link.Ref)
		if !ok || origin.nodeIDs == nil || origin.nodeIDs.IsEmpty() {
			return nil, fmt.Errorf("link ref %d has no cached node", link.Ref)
		}
		originIDs := bitmapToSlice(origin.nodeIDs)
		left, right := cypherDirectionPattern(link.Direction, link.Class)
		cypher = fmt.Sprintf(
			"MATCH (s)%s(%s%s)%s WHERE id(s) IN %s AND (%s) RETURN id(%s)",
			left, alias, tagPart, right, int64ArrayLiteral(originIDs), where, alias,
		)
	} else {
		node := alias + tagPart
		if alias == "e" {
			cypher = fmt.Sprintf("MATCH ()-[%s]-() WHERE %s RETURN id(%s)", node, where, alias)
		} else {
			cypher = fmt.Sprintf("MATCH (%s) WHERE %s RETURN id(%s)", node, where, alias)
		}
	}

	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ids = append(ids, parseAgtypeID(raw))
	}
	if link != nil && link.Unique {
		ids = dedupNeighbors(ids)
	}
	return ids, nil
}

func (e *Engine) loadEntities(ctx context.Context, tx *sql.Tx, ids []int64) ([]*agtypeEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cypher := fmt.Sprintf("MATCH (n) WHERE id(n) IN %s RETURN n", int64ArrayLiteral(ids))
	return e.loadByCypher(ctx, tx, cypher)
}

func (e *Engine) loadEdgeEntities(ctx context.Context, tx *sql.Tx, ids []int64) ([]*agtypeEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cypher := fmt.Sprintf("MATCH ()-[e]-() WHERE id(e) IN %s RETURN e", int64ArrayLiteral(ids))
	return e.loadByCypher(ctx, tx, cypher)
}

func (e *Engine) loadByCypher(ctx context.Context, tx *sql.Tx, cypher string) ([]*agtypeEntity, error) {
	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[int64]bool{}
	var out []*agtypeEntity
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ent, err := parseAgtypeEntity(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing agtype entity: %w", err)
		}
		if seen[ent.ID] {
			continue
		}
		seen[ent.ID] = true
		out = append(out, ent)
	}
	return out, nil
}

// buildGroupResult applies a ResultsSpec (projection / count / sum /
// average / sort / limit, spec.md 4.C "Results") to a set of matched
// elements and their loaded properties.
func buildGroupResult(group int, ids []int64, entities []*agtypeEntity, spec *querybuilder.ResultsSpec) (*querybuilder.GroupResult, error) {
	res := &querybuilder.GroupResult{GroupID: group, Code: querybuilder.CodeSuccess}
	if len(ids) == 0 {
		res.Code = querybuilder.CodeEmpty
	}
	if spec == nil {
		return res, nil
	}

	if spec.Sort != nil {
		sortEntities(entities, spec.Sort)
	}

	if spec.Count {
		res.CountRequested = true
		res.Count = len(entities)
	}
	if spec.Sum != "" {
		res.SumRequested = true
		res.Sum = sumNumeric(entities, spec.Sum)
	}
	if spec.Average != "" {
		res.AvgRequested = true
		n := len(entities)
		if n > 0 {
			res.Average = sumNumeric(entities, spec.Average) / float64(n)
		}
	}

	if len(spec.List) > 0 {
		limited := entities
		if spec.Limit != nil && *spec.Limit < len(limited) {
			limited = limited[:*spec.Limit]
		}
		res.EntitiesSet = true
		res.Entities = make([]map[string]interface{}, 0, len(limited))
		for _, ent := range limited {
			res.Entities = append(res.Entities, projectEntity(ent, spec.List))
		}
	}

	return res, nil
}

func projectEntity(ent *agtypeEntity, keys []string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, k := range keys {
		if k == model.PropEngineID {
			out[k] = ent.ID
			continue
		}
		if v, ok := ent.Properties[k]; ok {
			out[k] = v
		}
	}
	return out
}

func sumNumeric(entities []*agtypeEntity, key string) float64 {
	var total float64
	for _, ent := range entities {
		v, ok := ent.Properties[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			total += n
		case int64:
			total += float64(n)
		}
	}
	return total
}

func sortEntities(entities []*agtypeEntity, s *querybuilder.SortSpec) {
	sort.SliceStable(entities, func(i, j int) bool {
		vi, vj := entities[i].Properties[s.Key], entities[j].Properties[s.Key]
		less := lessValue(vi, vj)
		if s.Order == querybuilder.Descending {
			return !less && vi != vj
		}
		return less
	})
}

func lessValue(a, b interface{}) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return false
}

func bitmapToSlice(bm interface{ ToArray() []uint64 }) []int64 {
	arr := bm.ToArray()
	out := make([]int64, len(arr))
	for i, v := range arr {
		out[i] = int64(v)
	}
	return out
}

func int64ArrayLiteral(ids []int64) string {
	s := "["
	for i, id := range ids {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d", id)
	}
	return s + "]"
}
