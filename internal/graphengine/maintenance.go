package graphengine

import (
	"context"
	"fmt"
	"time"
)

// DeleteExpired removes every node whose VDMS_EXPIRATION property is in
// the past, per spec.md 5 "a separate timer thread periodically scans
// for entities with an expired _expiration property and deletes them".
// This runs outside the querybuilder Op set since it is a background
// maintenance sweep, not a client-issued command: no ref/group id makes
// sense for it, and it deletes across the whole graph rather than
// operating on one cached iterator. DETACH DELETE removes the node's
// edges along with it, since a dangling edge to a deleted entity has no
// meaningful representation on the wire.
func (e *Engine) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("graphengine: beginning expiration sweep transaction: %w", err)
	}

	cypher := fmt.Sprintf(
		`MATCH (n) WHERE n.VDMS_EXPIRATION IS NOT NULL AND n.VDMS_EXPIRATION < %s DETACH DELETE n RETURN id(n)`,
		cypherStringLiteral(now.UTC().Format(time.RFC3339)),
	)
	rows, err := e.cypherQuery(ctx, tx, cypher, 1)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("graphengine: running expiration sweep: %w", err)
	}

	var count int64
	for rows.Next() {
		count++
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		tx.Rollback()
		return 0, fmt.Errorf("graphengine: reading expiration sweep results: %w", rowsErr)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("graphengine: committing expiration sweep: %w", err)
	}
	return count, nil
}
