// Package flatset implements the brute-force flat descriptor engine
// (spec.md 4.E "Flat (L2 or IP)") over PostgreSQL + pgvector. Grounded on
// MuiGoku123432-goParser/internal/embeddings/postgres_embeddings.go for
// the table-per-set / pgvector.NewVector / "<=>"-or-"<->" operator
// pattern.
package flatset

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	_ "github.com/lib/pq"
)

// Set is a flat descriptor set: every vector lives in one pgvector
// column, brute-force scanned for every search. Always trained, per
// spec.md 4.E.
type Set struct {
	db     *sql.DB
	table  string
	dim    int
	metric descriptor.Metric
	labels map[int64]string
}

// Open connects to postgresURL (path doubles as the DSN for this engine;
// the descriptor.Manager passes the configured descriptors_path-derived
// connection string) and ensures the backing table exists.
func Open(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	return openOrCreate(path, dim, metric)
}

// Create is identical to Open for this engine: the table is created if
// absent either way, matching postgres_embeddings.go's initialize().
func Create(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	return openOrCreate(path, dim, metric)
}

func openOrCreate(postgresURL string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("flatset: opening connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("flatset: pinging database: %w", err)
	}

	s := &Set{db: db, table: tableName(postgresURL), dim: dim, metric: metric, labels: map[int64]string{}}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadLabels(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func tableName(path string) string {
	h := "flatset_" + strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, path)
	return h
}

func (s *Set) initialize() error {
	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("flatset: creating vector extension: %w", err)
	}
	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			local_id BIGINT GENERATED BY DEFAULT AS IDENTITY (MINVALUE 0 START WITH 0) PRIMARY KEY,
			label_id BIGINT NOT NULL DEFAULT -1,
			embedding vector(%d) NOT NULL
		)`, pq.QuoteIdentifier(s.table), s.dim)
	if _, err := s.db.Exec(createSQL); err != nil {
		return fmt.Errorf("flatset: creating table: %w", err)
	}
	labelsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			label_id BIGINT PRIMARY KEY,
			label TEXT NOT NULL
		)`, pq.QuoteIdentifier(s.table+"_labels"))
	if _, err := s.db.Exec(labelsSQL); err != nil {
		return fmt.Errorf("flatset: creating labels table: %w", err)
	}
	return nil
}

func (s *Set) loadLabels() error {
	rows, err := s.db.Query(fmt.Sprintf("SELECT label_id, label FROM %s", pq.QuoteIdentifier(s.table+"_labels")))
	if err != nil {
		return fmt.Errorf("flatset: loading labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return err
		}
		s.labels[id] = label
	}
	return nil
}

func (s *Set) operator() string {
	if s.metric == descriptor.MetricIP {
		return "<#>"
	}
	return "<->"
}

// Add appends vectors to the table and returns the first assigned id.
func (s *Set) Add(vectors [][]float32, labels []int64) (int64, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	for _, v := range vectors {
		if len(v) != s.dim {
			return 0, descriptor.ErrDimensionMismatch
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("flatset: beginning add: %w", err)
	}
	var firstID int64 = -1
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (label_id, embedding) VALUES ($1, $2) RETURNING local_id",
		pq.QuoteIdentifier(s.table),
	)
	for i, v := range vectors {
		label := int64(-1)
		if i < len(labels) {
			label = labels[i]
		}
		var id int64
		if err := tx.QueryRow(insertSQL, label, pgvector.NewVector(v)).Scan(&id); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("flatset: inserting vector: %w", err)
		}
		if firstID == -1 {
			firstID = id
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("flatset: committing add: %w", err)
	}
	return firstID, nil
}

// Search runs nq queries for k nearest neighbors each (spec.md 4.E
// "Descriptor linearity": searching an already-added vector for k=1
// returns itself at distance 0).
func (s *Set) Search(queries [][]float32, k int) ([]descriptor.SearchResult, error) {
	results := make([]descriptor.SearchResult, len(queries))
	op := s.operator()
	searchSQL := fmt.Sprintf(
		"SELECT local_id, embedding %s $1 AS dist FROM %s ORDER BY embedding %s $1 LIMIT $2",
		op, pq.QuoteIdentifier(s.table), op,
	)
	for i, q := range queries {
		if len(q) != s.dim {
			return nil, descriptor.ErrDimensionMismatch
		}
		rows, err := s.db.Query(searchSQL, pgvector.NewVector(q), k)
		if err != nil {
			return nil, fmt.Errorf("flatset: searching: %w", err)
		}
		res := descriptor.SearchResult{}
		for rows.Next() {
			var id int64
			var dist float64
			if err := rows.Scan(&id, &dist); err != nil {
				rows.Close()
				return nil, err
			}
			res.IDs = append(res.IDs, id)
			res.Distances = append(res.Distances, float32(dist))
		}
		rows.Close()
		for len(res.IDs) < k {
			res.IDs = append(res.IDs, -1)
			res.Distances = append(res.Distances, -1)
		}
		results[i] = res
	}
	return results, nil
}

// RadiusSearch returns ids within radius of query, truncated to limit.
func (s *Set) RadiusSearch(query []float32, radius float32, limit int) (descriptor.SearchResult, error) {
	if len(query) != s.dim {
		return descriptor.SearchResult{}, descriptor.ErrDimensionMismatch
	}
	op := s.operator()
	searchSQL := fmt.Sprintf(
		"SELECT local_id, embedding %s $1 AS dist FROM %s WHERE embedding %s $1 <= $2 ORDER BY embedding %s $1 LIMIT $3",
		op, pq.QuoteIdentifier(s.table), op, op,
	)
	rows, err := s.db.Query(searchSQL, pgvector.NewVector(query), radius, limit)
	if err != nil {
		return descriptor.SearchResult{}, fmt.Errorf("flatset: radius search: %w", err)
	}
	defer rows.Close()
	res := descriptor.SearchResult{}
	for rows.Next() {
		var id int64
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return descriptor.SearchResult{}, err
		}
		res.IDs = append(res.IDs, id)
		res.Distances = append(res.Distances, float32(dist))
	}
	return res, nil
}

// Classify majority-votes the label id among the quorum nearest
// neighbors of each query.
func (s *Set) Classify(queries [][]float32, quorum int) ([]int64, error) {
	results, err := s.Search(queries, quorum)
	if err != nil {
		return nil, err
	}
	labelsSQL := fmt.Sprintf("SELECT label_id FROM %s WHERE local_id = $1", pq.QuoteIdentifier(s.table))

	out := make([]int64, len(results))
	for i, res := range results {
		counts := map[int64]int{}
		order := []int64{}
		for _, id := range res.IDs {
			if id < 0 {
				continue
			}
			var label int64
			if err := s.db.QueryRow(labelsSQL, id).Scan(&label); err != nil {
				continue
			}
			if counts[label] == 0 {
				order = append(order, label)
			}
			counts[label]++
		}
		best := int64(-1)
		bestCount := 0
		for _, label := range order {
			if counts[label] > bestCount {
				best = label
				bestCount = counts[label]
			}
		}
		out[i] = best
	}
	return out, nil
}

// GetDescriptors returns stored vectors for ids, -1-filled for unknowns.
func (s *Set) GetDescriptors(ids []int64) ([][]float32, error) {
	out := make([][]float32, len(ids))
	getSQL := fmt.Sprintf("SELECT embedding FROM %s WHERE local_id = $1", pq.QuoteIdentifier(s.table))
	for i, id := range ids {
		var raw pgvector.Vector
		err := s.db.QueryRow(getSQL, id).Scan(&raw)
		if err != nil {
			missing := make([]float32, s.dim)
			for j := range missing {
				missing[j] = -1
			}
			out[i] = missing
			continue
		}
		out[i] = raw.Slice()
	}
	return out, nil
}

// Train is not implemented for the flat engine: it is always trained.
func (s *Set) Train(samples [][]float32) error { return descriptor.ErrNotImplemented }

// FinalizeIndex is a no-op for the flat engine.
func (s *Set) FinalizeIndex() error { return nil }

// Store persists the labels map; vectors are already durable in
// PostgreSQL, so there is no separate data file to flush for this
// engine.
func (s *Set) Store(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", pq.QuoteIdentifier(s.table+"_labels"))); err != nil {
		tx.Rollback()
		return err
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (label_id, label) VALUES ($1, $2)", pq.QuoteIdentifier(s.table+"_labels"))
	for id, label := range s.labels {
		if _, err := tx.Exec(insertSQL, id, label); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Set) Dimensions() int              { return s.dim }
func (s *Set) Metric() descriptor.Metric    { return s.metric }
func (s *Set) EngineName() descriptor.Engine { return descriptor.EngineFlat }

func (s *Set) Count() int64 {
	var n int64
	_ = s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(s.table))).Scan(&n)
	return n
}

func (s *Set) SetLabelsMap(labels map[int64]string) error {
	s.labels = make(map[int64]string, len(labels))
	for k, v := range labels {
		s.labels[k] = v
	}
	return s.Store("")
}

func (s *Set) GetLabelsMap() map[int64]string {
	out := make(map[int64]string, len(s.labels))
	for k, v := range s.labels {
		out[k] = v
	}
	return out
}

func (s *Set) LabelIDToString(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.labels[id]
	}
	return out
}

func (s *Set) GetLabelID(label string) int64 {
	for id, l := range s.labels {
		if l == label {
			return id
		}
	}
	next := int64(len(s.labels))
	for {
		if _, taken := s.labels[next]; !taken {
			break
		}
		next++
	}
	s.labels[next] = label
	return next
}

func (s *Set) Close() error { return s.db.Close() }
