// Package ivfset implements the inverted-file flat descriptor engine
// (spec.md 4.E "Inverted-file flat"): same pgvector-backed storage as
// flatset, but search requires training first, and training data comes
// from the set's own next add batch. Grounded on the same
// MuiGoku123432-goParser/internal/embeddings/postgres_embeddings.go
// ivfflat-index pattern as flatset, extended with the training gate
// spec.md 4.E describes.
package ivfset

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	_ "github.com/lib/pq"
)

// minTrainingSamples is the floor spec.md 4.E's "pad with synthetic
// copies if under a minimum count" refers to.
const minTrainingSamples = 100

// ivfLists is the ivfflat index's "lists" parameter, following
// postgres_embeddings.go's fixed choice of 100.
const ivfLists = 100

type Set struct {
	db      *sql.DB
	table   string
	dim     int
	metric  descriptor.Metric
	labels  map[int64]string
	trained bool
	// pending holds vectors added before training; the next train()
	// call (with no explicit samples) consumes these.
	pending [][]float32
}

func Open(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	return openOrCreate(path, dim, metric)
}

func Create(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	return openOrCreate(path, dim, metric)
}

func openOrCreate(postgresURL string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("ivfset: opening connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ivfset: pinging database: %w", err)
	}
	s := &Set{db: db, table: tableName(postgresURL), dim: dim, metric: metric, labels: map[int64]string{}}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func tableName(path string) string {
	return "ivfset_" + strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, path)
}

func (s *Set) initialize() error {
	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("ivfset: creating vector extension: %w", err)
	}
	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			local_id BIGINT GENERATED BY DEFAULT AS IDENTITY (MINVALUE 0 START WITH 0) PRIMARY KEY,
			label_id BIGINT NOT NULL DEFAULT -1,
			embedding vector(%d) NOT NULL
		)`, pq.QuoteIdentifier(s.table), s.dim)
	_, err := s.db.Exec(createSQL)
	return err
}

func (s *Set) operator() string {
	if s.metric == descriptor.MetricIP {
		return "<#>"
	}
	return "<->"
}

// Add appends vectors; until the set has been trained, rows are held in
// local pending memory as the training reservoir rather than inserted,
// since queries can't be served (or indexed) before a quantizer exists.
func (s *Set) Add(vectors [][]float32, labels []int64) (int64, error) {
	for _, v := range vectors {
		if len(v) != s.dim {
			return 0, descriptor.ErrDimensionMismatch
		}
	}
	if !s.trained {
		s.pending = append(s.pending, vectors...)
		return -1, nil
	}
	return insertRows(s.db, s.table, vectors, labels)
}

func insertRows(db *sql.DB, table string, vectors [][]float32, labels []int64) (int64, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (label_id, embedding) VALUES ($1, $2) RETURNING local_id", pq.QuoteIdentifier(table))
	firstID := int64(-1)
	for i, v := range vectors {
		label := int64(-1)
		if i < len(labels) {
			label = labels[i]
		}
		var id int64
		if err := tx.QueryRow(insertSQL, label, pgvector.NewVector(v)).Scan(&id); err != nil {
			tx.Rollback()
			return 0, err
		}
		if firstID == -1 {
			firstID = id
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return firstID, nil
}

// Train builds the ivfflat index. With no explicit samples, it trains
// from the set's pending add batch, padding with repeated copies of the
// last sample when under minTrainingSamples (spec.md 4.E).
func (s *Set) Train(samples [][]float32) error {
	data := samples
	if data == nil {
		data = s.pending
	}
	if len(data) == 0 {
		return fmt.Errorf("ivfset: no training data available")
	}
	for len(data) < minTrainingSamples {
		data = append(data, data[len(data)-1])
	}

	if _, err := insertRows(s.db, s.table, data, nil); err != nil {
		return fmt.Errorf("ivfset: seeding training rows: %w", err)
	}

	opClass := "vector_l2_ops"
	if s.metric == descriptor.MetricIP {
		opClass = "vector_ip_ops"
	}
	indexSQL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding %s) WITH (lists = %d)",
		pq.QuoteIdentifier(s.table+"_ivf_idx"), pq.QuoteIdentifier(s.table), opClass, ivfLists,
	)
	if _, err := s.db.Exec(indexSQL); err != nil {
		return fmt.Errorf("ivfset: building ivfflat index: %w", err)
	}

	s.trained = true
	s.pending = nil
	return nil
}

func (s *Set) Search(queries [][]float32, k int) ([]descriptor.SearchResult, error) {
	if !s.trained {
		return nil, fmt.Errorf("ivfset: %w: call train() before search", descriptor.ErrNotFinalized)
	}
	op := s.operator()
	searchSQL := fmt.Sprintf(
		"SELECT local_id, embedding %s $1 AS dist FROM %s ORDER BY embedding %s $1 LIMIT $2",
		op, pq.QuoteIdentifier(s.table), op,
	)
	results := make([]descriptor.SearchResult, len(queries))
	for i, q := range queries {
		if len(q) != s.dim {
			return nil, descriptor.ErrDimensionMismatch
		}
		rows, err := s.db.Query(searchSQL, pgvector.NewVector(q), k)
		if err != nil {
			return nil, err
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

func (s *Set) RadiusSearch(query []float32, radius float32, limit int) (descriptor.SearchResult, error) {
	if !s.trained {
		return descriptor.SearchResult{}, descriptor.ErrNotFinalized
	}
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
		return descriptor.SearchResult{}, err
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

func (s *Set) Classify(queries [][]float32, quorum int) ([]int64, error) {
	results, err := s.Search(queries, quorum)
	if err != nil {
		return nil, err
	}
	labelSQL := fmt.Sprintf("SELECT label_id FROM %s WHERE local_id = $1", pq.QuoteIdentifier(s.table))
	out := make([]int64, len(results))
	for i, res := range results {
		counts := map[int64]int{}
		order := []int64{}
		for _, id := range res.IDs {
			if id < 0 {
				continue
			}
			var label int64
			if err := s.db.QueryRow(labelSQL, id).Scan(&label); err != nil {
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

// GetDescriptors is only meaningful once trained: spec.md 4.E notes the
// direct-lookup map enabling get_descriptors is a post-training feature
// for this engine.
func (s *Set) GetDescriptors(ids []int64) ([][]float32, error) {
	if !s.trained {
		return nil, descriptor.ErrNotFinalized
	}
	out := make([][]float32, len(ids))
	getSQL := fmt.Sprintf("SELECT embedding FROM %s WHERE local_id = $1", pq.QuoteIdentifier(s.table))
	for i, id := range ids {
		var raw pgvector.Vector
		if err := s.db.QueryRow(getSQL, id).Scan(&raw); err != nil {
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

func (s *Set) FinalizeIndex() error { return nil }

func (s *Set) Store(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	labelsTable := pq.QuoteIdentifier(s.table + "_labels")
	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (label_id BIGINT PRIMARY KEY, label TEXT NOT NULL)", labelsTable)
	if _, err := tx.Exec(createSQL); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", labelsTable)); err != nil {
		tx.Rollback()
		return err
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (label_id, label) VALUES ($1, $2)", labelsTable)
	for id, label := range s.labels {
		if _, err := tx.Exec(insertSQL, id, label); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Set) Dimensions() int               { return s.dim }
func (s *Set) Metric() descriptor.Metric     { return s.metric }
func (s *Set) EngineName() descriptor.Engine { return descriptor.EngineIVF }

func (s *Set) Count() int64 {
	var n int64
	_ = s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(s.table))).Scan(&n)
	return n + int64(len(s.pending))
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
