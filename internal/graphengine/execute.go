package graphengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/intellabs/vdms-go/internal/querybuilder"
)

// Session holds one transaction and one ref->iterator cache spanning an
// entire client envelope, per spec.md 4.C "Transaction envelope": Begin
// precedes the envelope's first command, Commit follows its last on
// success, and any primitive returning a non-success/non-Exists code
// aborts the whole envelope rather than just the command that produced
// it - refs an earlier command cached (AddEntity's _ref, say) must still
// resolve when a later command in the same envelope (AddImage's link)
// looks them up, so the cache cannot be scoped to a single Execute call.
type Session struct {
	engine *Engine
	tx     *sql.Tx
	cache  *iteratorCache
}

// Begin opens the transaction and cache backing one envelope. The caller
// owns the Session's lifetime: run every command's Program through
// Execute, then Commit once after the last command succeeds or Rollback
// once as soon as any command fails.
func (e *Engine) Begin(ctx context.Context, readOnly bool) (*Session, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("graphengine: beginning transaction: %w", err)
	}
	return &Session{engine: e, tx: tx, cache: newIteratorCache()}, nil
}

// Execute runs prog's ops against the session's shared transaction and
// cache without committing or rolling back - that is the envelope
// owner's responsibility once every command in the batch has run.
func (s *Session) Execute(ctx context.Context, prog *querybuilder.Program) ([]*querybuilder.GroupResult, error) {
	results := make([]*querybuilder.GroupResult, 0, len(prog.Ops))

	for _, op := range prog.Ops {
		res, err := s.engine.execOne(ctx, s.tx, s.cache, op)
		if err != nil {
			return nil, fmt.Errorf("graphengine: group %d: %w", op.GroupID(), err)
		}
		if res.Code == querybuilder.CodeError || res.Code == querybuilder.CodeNotUnique {
			return nil, fmt.Errorf("graphengine: group %d: %s", op.GroupID(), res.Message)
		}
		results = append(results, res)
	}
	return results, nil
}

// Commit finalizes every mutation the session's commands made.
func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("graphengine: committing transaction: %w", err)
	}
	return nil
}

// Rollback discards every mutation the session's commands made, per
// spec.md 8 "Atomicity": a failing command must leave no trace of
// itself or any command that ran earlier in the same envelope.
func (s *Session) Rollback() error {
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("graphengine: rolling back transaction: %w", err)
	}
	return nil
}

func (e *Engine) execOne(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.Op) (*querybuilder.GroupResult, error) {
	switch o := op.(type) {
	case querybuilder.AddNodeOp:
		return e.addNode(ctx, tx, cache, o)
	case querybuilder.UpdateNodeOp:
		return e.updateNode(ctx, tx, cache, o)
	case querybuilder.AddEdgeOp:
		return e.addEdge(ctx, tx, cache, o)
	case querybuilder.UpdateEdgeOp:
		return e.updateEdge(ctx, tx, cache, o)
	case querybuilder.QueryNodeOp:
		return e.queryNode(ctx, tx, cache, o)
	case querybuilder.QueryEdgeOp:
		return e.queryEdge(ctx, tx, cache, o)
	default:
		return nil, fmt.Errorf("unknown primitive op type %T", op)
	}
}

// cypherQuery runs a single-column agtype cypher query and scans each row
// into a raw agtype string, which the caller parses.
func (e *Engine) cypherQuery(ctx context.Context, tx *sql.Tx, cypher string, columns int) (*sql.Rows, error) {
	colDefs := "(v agtype)"
	if columns > 1 {
		colDefs = "("
		for i := 0; i < columns; i++ {
			if i > 0 {
				colDefs += ", "
			}
			colDefs += fmt.Sprintf("v%d agtype", i)
		}
		colDefs += ")"
	}
	sqlText := fmt.Sprintf(`SELECT * FROM cypher('%s', $$ %s $$) as %s`, e.graphName, cypher, colDefs)
	return tx.QueryContext(ctx, sqlText)
}

func (e *Engine) cypherExec(ctx context.Context, tx *sql.Tx, cypher string) error {
	sqlText := fmt.Sprintf(`SELECT * FROM cypher('%s', $$ %s $$) as (v agtype)`, e.graphName, cypher)
	_, err := tx.ExecContext(ctx, sqlText)
	return err
}

func (e *Engine) addNode(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.AddNodeOp) (*querybuilder.GroupResult, error) {
	if op.Unique != nil {
		where := compilePredicate("n", op.Unique)
		cypher := fmt.Sprintf("MATCH (n:%s) WHERE %s RETURN id(n)", cypherIdentRaw(op.Tag), where)
		rows, err := e.cypherQuery(ctx, tx, cypher, 1)
		if err != nil {
			return errResult(op.GroupID(), err), nil
		}
		defer rows.Close()
		if rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return errResult(op.GroupID(), err), nil
			}
			id := parseAgtypeID(raw)
			cache.setNodes(op.Ref(), []int64{id}, true)
			return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeExists, NodeID: id}, nil
		}
	}

	cypher := fmt.Sprintf("CREATE (n:%s %s) RETURN id(n)", cypherIdentRaw(op.Tag), cypherProperties(op.Properties))
	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	defer rows.Close()
	if !rows.Next() {
		return errResult(op.GroupID(), fmt.Errorf("create returned no rows")), nil
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return errResult(op.GroupID(), err), nil
	}
	id := parseAgtypeID(raw)
	cache.setNodes(op.Ref(), []int64{id}, op.Unique != nil)
	return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeSuccess, NodeID: id}, nil
}

func (e *Engine) updateNode(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.UpdateNodeOp) (*querybuilder.GroupResult, error) {
	where := "true"
	if op.Constraints != nil {
		where = compilePredicate("n", op.Constraints)
	}
	setParts := ""
	for k, v := range op.SetProperties {
		setParts += fmt.Sprintf("SET n.%s = %s ", cypherIdent(k), cypherLiteral(v))
	}
	for _, k := range op.RemoveKeys {
		setParts += fmt.Sprintf("REMOVE n.%s ", cypherIdent(k))
	}
	tagFilter := ""
	if op.Tag != "" {
		tagFilter = ":" + cypherIdentRaw(op.Tag)
	}
	cypher := fmt.Sprintf("MATCH (n%s) WHERE %s %sRETURN id(n)", tagFilter, where, setParts)
	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return errResult(op.GroupID(), err), nil
		}
		ids = append(ids, parseAgtypeID(raw))
	}
	if len(ids) == 0 {
		return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeEmpty}, nil
	}
	if op.Unique && len(ids) > 1 {
		return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeNotUnique, Message: "update matched more than one node"}, nil
	}
	cache.setNodes(op.Ref(), ids, false)
	return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeSuccess, NodeID: ids[0]}, nil
}

func (e *Engine) addEdge(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.AddEdgeOp) (*querybuilder.GroupResult, error) {
	srcIt, ok := cache.get(op.SrcRef)
	if !ok || srcIt.nodeIDs == nil || srcIt.nodeIDs.IsEmpty() {
		return errResult(op.GroupID(), fmt.Errorf("src ref %d has no cached node", op.SrcRef)), nil
	}
	dstIt, ok := cache.get(op.DstRef)
	if !ok || dstIt.nodeIDs == nil || dstIt.nodeIDs.IsEmpty() {
		return errResult(op.GroupID(), fmt.Errorf("dst ref %d has no cached node", op.DstRef)), nil
	}

	srcID := int64(srcIt.nodeIDs.Minimum())
	dstID := int64(dstIt.nodeIDs.Minimum())

	cypher := fmt.Sprintf(
		"MATCH (s), (d) WHERE id(s) = %d AND id(d) = %d CREATE (s)-[e:%s %s]->(d) RETURN id(e)",
		srcID, dstID, cypherIdentRaw(op.Tag), cypherProperties(op.Properties),
	)
	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	defer rows.Close()
	if !rows.Next() {
		return errResult(op.GroupID(), fmt.Errorf("create edge returned no rows")), nil
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return errResult(op.GroupID(), err), nil
	}
	id := parseAgtypeID(raw)
	cache.setEdges(op.Ref(), []int64{id})
	return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeSuccess, EdgeID: id}, nil
}

func (e *Engine) updateEdge(ctx context.Context, tx *sql.Tx, cache *iteratorCache, op querybuilder.UpdateEdgeOp) (*querybuilder.GroupResult, error) {
	where := "true"
	if op.Constraints != nil {
		where = compilePredicate("e", op.Constraints)
	}
	setParts := ""
	for k, v := range op.SetProperties {
		setParts += fmt.Sprintf("SET e.%s = %s ", cypherIdent(k), cypherLiteral(v))
	}
	for _, k := range op.RemoveKeys {
		setParts += fmt.Sprintf("REMOVE e.%s ", cypherIdent(k))
	}
	tagFilter := ""
	if op.Tag != "" {
		tagFilter = ":" + cypherIdentRaw(op.Tag)
	}
	cypher := fmt.Sprintf("MATCH ()-[e%s]-() WHERE %s %sRETURN id(e)", tagFilter, where, setParts)
	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		return errResult(op.GroupID(), err), nil
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return errResult(op.GroupID(), err), nil
		}
		ids = append(ids, parseAgtypeID(raw))
	}
	if len(ids) == 0 {
		return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeEmpty}, nil
	}
	cache.setEdges(op.Ref(), ids)
	return &querybuilder.GroupResult{GroupID: op.GroupID(), Code: querybuilder.CodeSuccess, EdgeID: ids[0]}, nil
}

func errResult(group int, err error) *querybuilder.GroupResult {
	return &querybuilder.GroupResult{GroupID: group, Code: querybuilder.CodeError, Message: err.Error()}
}
