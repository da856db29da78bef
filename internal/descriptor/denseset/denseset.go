// Package denseset implements the on-disk dense array descriptor engine
// (spec.md 4.E "Dense on-disk"): a flat binary file of fixed-stride
// (vector, label) rows with a metadata record at a reserved tail offset,
// brute-force searched from an in-memory cache rebuilt lazily. No pack
// repo ships a dense on-disk vector array format (TileDB is explicitly
// out of scope, spec.md §1), so the binary codec here is hand-written
// with stdlib encoding/binary; RoaringBitmap/roaring tracks the live id
// set the same way agentic-research-mache/internal/lattice tracks column
// extents, so add/get can tell a present id from a tombstoned one
// without a linear scan.
package denseset

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

const metadataSize = 4 + 8 // dim int32, count int64

type row struct {
	vector []float32
	label  int64
}

// Set is a dense on-disk descriptor set rooted at a directory containing
// data.bin (rows + tail metadata) and labels.txt (label id -> string).
type Set struct {
	mu     sync.Mutex
	dir    string
	dim    int
	metric descriptor.Metric
	count  int64
	live   *roaring.Bitmap
	labels map[int64]string

	cache []row // nil until first search/get rebuilds it
}

func dataPath(dir string) string { return filepath.Join(dir, "data.bin") }

func Create(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("denseset: creating directory: %w", err)
	}
	s := &Set{dir: path, dim: dim, metric: metric, live: roaring.New(), labels: map[int64]string{}}
	if err := s.writeMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

func Open(path string, dim int, metric descriptor.Metric) (descriptor.Set, error) {
	s := &Set{dir: path, dim: dim, metric: metric, live: roaring.New(), labels: map[int64]string{}}
	if err := s.readMetadata(); err != nil {
		return nil, err
	}
	for i := int64(0); i < s.count; i++ {
		s.live.Add(uint32(i))
	}
	return s, nil
}

func (s *Set) readMetadata() error {
	f, err := os.Open(dataPath(s.dir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("denseset: opening data file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < metadataSize {
		return nil
	}
	buf := make([]byte, metadataSize)
	if _, err := f.ReadAt(buf, info.Size()-metadataSize); err != nil {
		return fmt.Errorf("denseset: reading tail metadata: %w", err)
	}
	dim := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	count := int64(binary.LittleEndian.Uint64(buf[4:12]))
	if dim != 0 {
		s.dim = dim
	}
	s.count = count
	return nil
}

// writeMetadata truncates off any previous tail record and appends a
// fresh one, keeping the metadata at the reserved tail offset spec.md
// 4.E describes.
func (s *Set) writeMetadata() error {
	f, err := os.OpenFile(dataPath(s.dir), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("denseset: opening data file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= metadataSize {
		if err := f.Truncate(info.Size() - metadataSize); err != nil {
			return err
		}
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	buf := make([]byte, metadataSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(s.dim)))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(s.count))
	_, err = f.Write(buf)
	return err
}

func (s *Set) rowSize() int64 { return int64(s.dim)*4 + 8 }

func (s *Set) Add(vectors [][]float32, labels []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if len(v) != s.dim {
			return 0, descriptor.ErrDimensionMismatch
		}
	}
	if len(vectors) == 0 {
		return s.count, nil
	}

	f, err := os.OpenFile(dataPath(s.dir), os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("denseset: opening data file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size >= metadataSize {
		size -= metadataSize
		if err := f.Truncate(size); err != nil {
			return 0, err
		}
	}
	if _, err := f.Seek(size, os.SEEK_SET); err != nil {
		return 0, err
	}

	firstID := s.count
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
		s.live.Add(uint32(s.count))
		s.count++
	}

	tail := make([]byte, metadataSize)
	binary.LittleEndian.PutUint32(tail[0:4], uint32(int32(s.dim)))
	binary.LittleEndian.PutUint64(tail[4:12], uint64(s.count))
	if _, err := f.Write(tail); err != nil {
		return 0, err
	}

	s.cache = nil // adds invalidate the in-memory cache, spec.md 4.E
	return firstID, nil
}

// ensureCache rebuilds the in-memory row cache on first access after an
// invalidating add.
func (s *Set) ensureCache() error {
	if s.cache != nil {
		return nil
	}
	f, err := os.Open(dataPath(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			s.cache = []row{}
			return nil
		}
		return err
	}
	defer f.Close()

	rowSize := s.rowSize()
	cache := make([]row, 0, s.count)
	buf := make([]byte, rowSize)
	for i := int64(0); i < s.count; i++ {
		if _, err := f.ReadAt(buf, i*rowSize); err != nil {
			return fmt.Errorf("denseset: reading row %d: %w", i, err)
		}
		v := make([]float32, s.dim)
		for j := 0; j < s.dim; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4 : j*4+4]))
		}
		label := int64(binary.LittleEndian.Uint64(buf[len(buf)-8:]))
		cache = append(cache, row{vector: v, label: label})
	}
	s.cache = cache
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

func (s *Set) Search(queries [][]float32, k int) ([]descriptor.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCache(); err != nil {
		return nil, err
	}

	results := make([]descriptor.SearchResult, len(queries))
	for qi, q := range queries {
		if len(q) != s.dim {
			return nil, descriptor.ErrDimensionMismatch
		}
		type scored struct {
			id   int64
			dist float32
		}
		scoredRows := make([]scored, 0, len(s.cache))
		for id, r := range s.cache {
			if !s.live.Contains(uint32(id)) {
				continue
			}
			scoredRows = append(scoredRows, scored{id: int64(id), dist: distance(s.metric, q, r.vector)})
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
	if err := s.ensureCache(); err != nil {
		return descriptor.SearchResult{}, err
	}
	if len(query) != s.dim {
		return descriptor.SearchResult{}, descriptor.ErrDimensionMismatch
	}

	res := descriptor.SearchResult{}
	for id, r := range s.cache {
		if !s.live.Contains(uint32(id)) {
			continue
		}
		d := distance(s.metric, query, r.vector)
		if d <= radius {
			res.IDs = append(res.IDs, int64(id))
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
			if id < 0 || int(id) >= len(s.cache) {
				continue
			}
			label := s.cache[id].label
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
	if err := s.ensureCache(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(ids))
	for i, id := range ids {
		if id < 0 || int(id) >= len(s.cache) || !s.live.Contains(uint32(id)) {
			missing := make([]float32, s.dim)
			for j := range missing {
				missing[j] = -1
			}
			out[i] = missing
			continue
		}
		out[i] = s.cache[id].vector
	}
	return out, nil
}

// Train is not implemented: the dense engine is always directly
// addressable, no quantizer to fit.
func (s *Set) Train(samples [][]float32) error { return descriptor.ErrNotImplemented }

func (s *Set) FinalizeIndex() error { return nil }

func (s *Set) Store(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" && path != s.dir {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(dataPath(s.dir))
		if err != nil {
			return err
		}
		if err := os.WriteFile(dataPath(path), data, 0o644); err != nil {
			return err
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
func (s *Set) EngineName() descriptor.Engine { return descriptor.EngineDense }
func (s *Set) Count() int64                  { return s.count }

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
