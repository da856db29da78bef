// Package lshset implements the locality-sensitive-hashing descriptor
// engine (spec.md 4.E "LSH-style"): add is incremental, but the hash
// tables are only valid after finalize_index, and any add after that
// invalidates the finalized state again. There is no off-the-shelf Go
// LSH library in the examples pack, so the random-projection hash scheme
// here is hand-written; RoaringBitmap/roaring backs each bucket's id set,
// the same column-of-ids idiom agentic-research-mache/internal/lattice
// uses, and math/rand seeds the hyperplanes deterministically per set so
// repeated finalize calls over the same data reproduce the same tables.
package lshset

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/intellabs/vdms-go/internal/descriptor"
)

// Fixed engine parameters standing in for spec.md 4.E's
// (rows, cells-per-row, hash-tables, hashes-per-table, sub-hash-bits,
// cut-off) tuple; descriptor.CreateFunc/OpenFunc carry only path/dim/
// metric, so these are the engine's compiled-in configuration rather
// than a per-set choice.
const (
	numTables      = 4
	hashesPerTable = 10
	hashSeed       = 0x5ec0da
)

type Set struct {
	mu     sync.Mutex
	dir    string
	dim    int
	metric descriptor.Metric

	vectors [][]float32
	labels  []int64

	hyperplanes [][][]float32 // [table][hash][dim]
	tables      []map[uint32]*roaring.Bitmap
	finalized   bool

	labelStrings map[int64]string
}

func Create(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("lshset: creating directory: %w", err)
	}
	return &Set{dir: path, dim: dim, metric: metric, labelStrings: map[int64]string{}}, nil
}

func Open(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	s := &Set{dir: path, dim: dim, metric: metric, labelStrings: map[int64]string{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) rowSize() int64 { return int64(s.dim)*4 + 8 }

func (s *Set) load() error {
	f, err := os.Open(filepath.Join(s.dir, "data.bin"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	rowSize := s.rowSize()
	n := info.Size() / rowSize
	buf := make([]byte, rowSize)
	for i := int64(0); i < n; i++ {
		if _, err := f.ReadAt(buf, i*rowSize); err != nil {
			return err
		}
		v := make([]float32, s.dim)
		for j := 0; j < s.dim; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4 : j*4+4]))
		}
		label := int64(binary.LittleEndian.Uint64(buf[len(buf)-8:]))
		s.vectors = append(s.vectors, v)
		s.labels = append(s.labels, label)
	}
	return nil
}

// Add appends vectors incrementally; finalize_index must run again
// before the next search (spec.md 4.E).
func (s *Set) Add(vectors [][]float32, labels []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if len(v) != s.dim {
			return 0, descriptor.ErrDimensionMismatch
		}
	}
	if len(vectors) == 0 {
		return int64(len(s.vectors)), nil
	}

	f, err := os.OpenFile(filepath.Join(s.dir, "data.bin"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("lshset: opening data file: %w", err)
	}
	defer f.Close()

	firstID := int64(len(s.vectors))
	for i, v := range vectors {
		label := int64(-1)
		if i < len(labels) {
			label = labels[i]
		}
		buf := make([]byte, s.rowSize())
		for j, f32 := range v {
			binary.LittleEndian.PutUint32(buf[j*4:j*4+4], math.Float32bits(f32))
		}
		binary.LittleEndian.PutUint64(buf[len(buf)-8:], uint64(label))
		if _, err := f.Write(buf); err != nil {
			return 0, err
		}
		s.vectors = append(s.vectors, v)
		s.labels = append(s.labels, label)
	}
	s.finalized = false
	return firstID, nil
}

func (s *Set) ensureHyperplanes() {
	if s.hyperplanes != nil {
		return
	}
	rng := rand.New(rand.NewSource(hashSeed))
	s.hyperplanes = make([][][]float32, numTables)
	for t := 0; t < numTables; t++ {
		s.hyperplanes[t] = make([][]float32, hashesPerTable)
		for h := 0; h < hashesPerTable; h++ {
			plane := make([]float32, s.dim)
			for d := 0; d < s.dim; d++ {
				plane[d] = float32(rng.NormFloat64())
			}
			s.hyperplanes[t][h] = plane
		}
	}
}

func bucketHash(plane [][]float32, v []float32) uint32 {
	var key uint32
	for i, hp := range plane {
		var dot float32
		for d := range v {
			dot += hp[d] * v[d]
		}
		if dot >= 0 {
			key |= 1 << uint(i)
		}
	}
	return key
}

// FinalizeIndex commits the current vector set into numTables hash
// tables. Required before the first search; a further Add resets
// finalized to false so stale tables are never queried.
func (s *Set) FinalizeIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureHyperplanes()

	s.tables = make([]map[uint32]*roaring.Bitmap, numTables)
	for t := 0; t < numTables; t++ {
		s.tables[t] = map[uint32]*roaring.Bitmap{}
		for id, v := range s.vectors {
			key := bucketHash(s.hyperplanes[t], v)
			bm, ok := s.tables[t][key]
			if !ok {
				bm = roaring.New()
				s.tables[t][key] = bm
			}
			bm.Add(uint32(id))
		}
	}
	s.finalized = true
	return nil
}

func distance(metric descriptor.Metric, a, b []float32) float32 {
	if metric == descriptor.MetricIP {
		var dot float32
		for i := range a {
			dot += a[i] * b[i]
		}
		return -dot
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func (s *Set) candidates(v []float32) []int64 {
	seen := roaring.New()
	for t := 0; t < numTables; t++ {
		key := bucketHash(s.hyperplanes[t], v)
		if bm, ok := s.tables[t][key]; ok {
			seen.Or(bm)
		}
	}
	if seen.IsEmpty() {
		// Degenerate bucket: fall back to an exhaustive scan rather
		// than return no candidates.
		arr := make([]int64, len(s.vectors))
		for i := range arr {
			arr[i] = int64(i)
		}
		return arr
	}
	arr := seen.ToArray()
	out := make([]int64, len(arr))
	for i, x := range arr {
		out[i] = int64(x)
	}
	return out
}

func (s *Set) Search(queries [][]float32, k int) ([]descriptor.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalized {
		return nil, descriptor.ErrNotFinalized
	}

	results := make([]descriptor.SearchResult, len(queries))
	for qi, q := range queries {
		if len(q) != s.dim {
			return nil, descriptor.ErrDimensionMismatch
		}
		candIDs := s.candidates(q)
		type scored struct {
			id   int64
			dist float32
		}
		scoredRows := make([]scored, 0, len(candIDs))
		for _, id := range candIDs {
			scoredRows = append(scoredRows, scored{id: id, dist: distance(s.metric, q, s.vectors[id])})
		}
		sort.Slice(scoredRows, func(i, j int) bool { return scoredRows[i].dist < scoredRows[j].dist })

		res := descriptor.SearchResult{}
		for i := 0; i < k; i++ {
			if i < len(scoredRows) {
				res.IDs = append(res.IDs, scoredRows[i].id)
				res.Distances = append(res.Distances, scoredRows[i].dist)
			} else {
				res.IDs = append(res.IDs, -1)
				res.Distances = append(res.Distances, -1)
			}
		}
		results[qi] = res
	}
	return results, nil
}

func (s *Set) RadiusSearch(query []float32, radius float32, limit int) (descriptor.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalized {
		return descriptor.SearchResult{}, descriptor.ErrNotFinalized
	}
	if len(query) != s.dim {
		return descriptor.SearchResult{}, descriptor.ErrDimensionMismatch
	}
	candIDs := s.candidates(query)
	res := descriptor.SearchResult{}
	for _, id := range candIDs {
		d := distance(s.metric, query, s.vectors[id])
		if d <= radius {
			res.IDs = append(res.IDs, id)
			res.Distances = append(res.Distances, d)
			if len(res.IDs) >= limit {
				break
			}
		}
	}
	return res, nil
}

func (s *Set) Classify(queries [][]float32, quorum int) ([]int64, error) {
	results, err := s.Search(queries, quorum)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, len(results))
	for qi, res := range results {
		counts := map[int64]int{}
		order := []int64{}
		for _, id := range res.IDs {
			if id < 0 {
				continue
			}
			label := s.labels[id]
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
		out[qi] = best
	}
	return out, nil
}

func (s *Set) GetDescriptors(ids []int64) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(ids))
	for i, id := range ids {
		if id < 0 || int(id) >= len(s.vectors) {
			missing := make([]float32, s.dim)
			for j := range missing {
				missing[j] = -1
			}
			out[i] = missing
			continue
		}
		out[i] = s.vectors[id]
	}
	return out, nil
}

// Train is not implemented: this engine's equivalent step is
// finalize_index, not train.
func (s *Set) Train(samples [][]float32) error { return descriptor.ErrNotImplemented }

func (s *Set) Store(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" && path != s.dir {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "data.bin"))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		if err == nil {
			if err := os.WriteFile(filepath.Join(path, "data.bin"), data, 0o644); err != nil {
				return err
			}
		}
		s.dir = path
	}
	f, err := os.Create(filepath.Join(s.dir, "labels.txt"))
	if err != nil {
		return err
	}
	defer f.Close()
	ids := make([]int64, 0, len(s.labelStrings))
	for id := range s.labelStrings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(f, "%d\t%s\n", id, s.labelStrings[id])
	}
	return nil
}

func (s *Set) Dimensions() int               { return s.dim }
func (s *Set) Metric() descriptor.Metric     { return s.metric }
func (s *Set) EngineName() descriptor.Engine { return descriptor.EngineLSH }
func (s *Set) Count() int64                  { return int64(len(s.vectors)) }

func (s *Set) SetLabelsMap(labels map[int64]string) error {
	s.mu.Lock()
	s.labelStrings = make(map[int64]string, len(labels))
	for k, v := range labels {
		s.labelStrings[k] = v
	}
	s.mu.Unlock()
	return s.Store("")
}

func (s *Set) GetLabelsMap() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.labelStrings))
	for k, v := range s.labelStrings {
		out[k] = v
	}
	return out
}

func (s *Set) LabelIDToString(ids []int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.labelStrings[id]
	}
	return out
}

func (s *Set) GetLabelID(label string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.labelStrings {
		if l == label {
			return id
		}
	}
	next := int64(len(s.labelStrings))
	for {
		if _, taken := s.labelStrings[next]; !taken {
			break
		}
		next++
	}
	s.labelStrings[next] = label
	return next
}

func (s *Set) Close() error { return nil }
