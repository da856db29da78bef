// Package sparseset implements the on-disk sparse coordinate-bucketed
// descriptor engine (spec.md 4.E "Sparse on-disk"): descriptors are
// stored at grid coordinates derived from the vector itself, within a
// configured bounded cube, and a search expands its window geometrically
// until it has gathered at least k candidates or the cube is exhausted.
// Like denseset, no pack repo ships this format, so the on-disk codec is
// hand-written with stdlib encoding/binary; bucket membership uses
// RoaringBitmap/roaring the same way agentic-research-mache/internal/
// lattice indexes column values into id sets.
package sparseset

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/intellabs/vdms-go/internal/descriptor"
)

// cubeBound is the coordinate space half-width; vectors whose components
// fall outside [-cubeBound, cubeBound] are out of range.
const cubeBound = 32.0

// cubeResolution is the number of grid cells per dimension across the
// cube.
const cubeResolution = 64

type record struct {
	vector []float32
	label  int64
	coord  []int
}

// Set is a sparse on-disk descriptor set: a linear vector/label data file
// plus an in-memory coordinate->ids bucket map rebuilt from it.
type Set struct {
	mu      sync.Mutex
	dir     string
	dim     int
	metric  descriptor.Metric
	labels  map[int64]string
	records []record
	buckets map[string]*roaring.Bitmap
}

func dataPath(dir string) string { return filepath.Join(dir, "data.bin") }

func Create(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("sparseset: creating directory: %w", err)
	}
	return &Set{dir: path, dim: dim, metric: metric, labels: map[int64]string{}, buckets: map[string]*roaring.Bitmap{}}, nil
}

func Open(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	s := &Set{dir: path, dim: dim, metric: metric, labels: map[int64]string{}, buckets: map[string]*roaring.Bitmap{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) rowSize() int64 { return int64(s.dim)*4 + 8 }

func (s *Set) load() error {
	f, err := os.Open(dataPath(s.dir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sparseset: opening data file: %w", err)
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
		s.appendRecord(v, label)
	}
	return nil
}

// coordinate maps a vector to grid cell indices, and reports whether it
// falls outside the configured cube.
func coordinate(v []float32) ([]int, bool) {
	coord := make([]int, len(v))
	inRange := true
	for i, x := range v {
		if x < -cubeBound || x > cubeBound {
			inRange = false
		}
		cell := int((float64(x) + cubeBound) / (2 * cubeBound) * cubeResolution)
		if cell < 0 {
			cell = 0
		}
		if cell >= cubeResolution {
			cell = cubeResolution - 1
		}
		coord[i] = cell
	}
	return coord, inRange
}

func bucketKey(coord []int) string {
	key := make([]byte, 0, len(coord)*4)
	for _, c := range coord {
		key = append(key, byte(c), byte(c>>8), byte(c>>16), byte(c>>24))
	}
	return string(key)
}

func (s *Set) appendRecord(v []float32, label int64) int64 {
	coord, _ := coordinate(v)
	id := int64(len(s.records))
	s.records = append(s.records, record{vector: v, label: label, coord: coord})
	key := bucketKey(coord)
	bm, ok := s.buckets[key]
	if !ok {
		bm = roaring.New()
		s.buckets[key] = bm
	}
	bm.Add(uint32(id))
	return id
}

func (s *Set) Add(vectors [][]float32, labels []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if len(v) != s.dim {
			return 0, descriptor.ErrDimensionMismatch
		}
	}
	if len(vectors) == 0 {
		return int64(len(s.records)), nil
	}

	f, err := os.OpenFile(dataPath(s.dir), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("sparseset: opening data file: %w", err)
	}
	defer f.Close()

	firstID := int64(len(s.records))
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
		s.appendRecord(v, label)
	}
	return firstID, nil
}

// candidatesWithin gathers record ids whose grid coordinate is within
// window cells of center in every dimension.
func (s *Set) candidatesWithin(center []int, window int) []int64 {
	seen := roaring.New()
	for key, bm := range s.buckets {
		coord := decodeKey(key, len(center))
		within := true
		for i := range coord {
			d := coord[i] - center[i]
			if d < -window || d > window {
				within = false
				break
			}
		}
		if within {
			seen.Or(bm)
		}
	}
	arr := seen.ToArray()
	out := make([]int64, len(arr))
	for i, v := range arr {
		out[i] = int64(v)
	}
	return out
}

func decodeKey(key string, dim int) []int {
	coord := make([]int, dim)
	for i := 0; i < dim; i++ {
		off := i * 4
		coord[i] = int(int32(uint32(key[off]) | uint32(key[off+1])<<8 | uint32(key[off+2])<<16 | uint32(key[off+3])<<24))
	}
	return coord
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

// Search expands the candidate window geometrically (1, 2, 4, 8, ...
// cells) until at least k candidates are found or the cube is
// exhausted, per spec.md 4.E.
func (s *Set) Search(queries [][]float32, k int) ([]descriptor.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]descriptor.SearchResult, len(queries))
	for qi, q := range queries {
		if len(q) != s.dim {
			return nil, descriptor.ErrDimensionMismatch
		}
		center, _ := coordinate(q)

		var candidates []int64
		window := 1
		for window <= cubeResolution {
			candidates = s.candidatesWithin(center, window)
			if len(candidates) >= k {
				break
			}
			window *= 2
		}

		type scored struct {
			id   int64
			dist float32
		}
		scoredRows := make([]scored, 0, len(candidates))
		for _, id := range candidates {
			scoredRows = append(scoredRows, scored{id: id, dist: distance(s.metric, q, s.records[id].vector)})
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
	if len(query) != s.dim {
		return descriptor.SearchResult{}, descriptor.ErrDimensionMismatch
	}
	center, _ := coordinate(query)
	candidates := s.candidatesWithin(center, cubeResolution)

	res := descriptor.SearchResult{}
	for _, id := range candidates {
		d := distance(s.metric, query, s.records[id].vector)
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
			label := s.records[id].label
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
		if id < 0 || int(id) >= len(s.records) {
			missing := make([]float32, s.dim)
			for j := range missing {
				missing[j] = -1
			}
			out[i] = missing
			continue
		}
		out[i] = s.records[id].vector
	}
	return out, nil
}

func (s *Set) Train(samples [][]float32) error { return descriptor.ErrNotImplemented }
func (s *Set) FinalizeIndex() error            { return nil }

func (s *Set) Store(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" && path != s.dir {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(dataPath(s.dir))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		if err == nil {
			if err := os.WriteFile(dataPath(path), data, 0o644); err != nil {
				return err
			}
		}
		s.dir = path
	}
	return writeLabels(s.dir, s.labels)
}

func writeLabels(dir string, labels map[int64]string) error {
	f, err := os.Create(filepath.Join(dir, "labels.txt"))
	if err != nil {
		return err
	}
	defer f.Close()
	ids := make([]int64, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(f, "%d\t%s\n", id, labels[id])
	}
	return nil
}

func (s *Set) Dimensions() int               { return s.dim }
func (s *Set) Metric() descriptor.Metric     { return s.metric }
func (s *Set) EngineName() descriptor.Engine { return descriptor.EngineSparse }
func (s *Set) Count() int64                  { return int64(len(s.records)) }

func (s *Set) SetLabelsMap(labels map[int64]string) error {
	s.mu.Lock()
	s.labels = make(map[int64]string, len(labels))
	for k, v := range labels {
		s.labels[k] = v
	}
	s.mu.Unlock()
	return s.Store("")
}

func (s *Set) GetLabelsMap() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.labels))
	for k, v := range s.labels {
		out[k] = v
	}
	return out
}

func (s *Set) LabelIDToString(ids []int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.labels[id]
	}
	return out
}

func (s *Set) GetLabelID(label string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *Set) Close() error { return nil }
