// Package graphengine implements the graph execution adapter of spec.md
// 4.D against PostgreSQL with the Apache AGE extension, treating the
// underlying graph engine as the external transactional collaborator
// spec.md section 1 describes. Grounded on
// MuiGoku123432-goParser/internal/model/age_graph.go for the
// connection-and-cypher-wrapper pattern, and on
// original_source/src/PMGDQueryHandler.h for the responsibility split
// (ref-to-iterator cache, per-primitive dispatch, aggregate/sort/limit,
// link traversal).
package graphengine

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Engine owns the PostgreSQL connection pool and the name of the AGE
// graph all queries run against.
type Engine struct {
	db        *sql.DB
	graphName string
}

// NewEngine opens a connection to postgresURL and ensures the AGE
// extension and named graph exist, mirroring age_graph.go's
// NewAGEClient/initializeAGE sequence.
func NewEngine(postgresURL, graphName string) (*Engine, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("graphengine: opening connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("graphengine: pinging database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if graphName == "" {
		graphName = "vdms"
	}

	e := &Engine{db: db, graphName: graphName}
	if err := e.initializeAGE(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) initializeAGE() error {
	if _, err := e.db.Exec(`CREATE EXTENSION IF NOT EXISTS age`); err != nil {
		return fmt.Errorf("graphengine: creating age extension: %w", err)
	}
	if _, err := e.db.Exec(`LOAD 'age'`); err != nil {
		return fmt.Errorf("graphengine: loading age: %w", err)
	}
	if _, err := e.db.Exec(`SET search_path = ag_catalog, "$user", public`); err != nil {
		return fmt.Errorf("graphengine: setting search_path: %w", err)
	}

	var exists bool
	err := e.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM ag_catalog.ag_graph WHERE name = $1)`, e.graphName,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("graphengine: checking graph existence: %w", err)
	}
	if !exists {
		if _, err := e.db.Exec(fmt.Sprintf(`SELECT create_graph('%s')`, e.graphName)); err != nil {
			return fmt.Errorf("graphengine: creating graph %q: %w", e.graphName, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (e *Engine) Close() error { return e.db.Close() }
