// Package descriptor implements the descriptor-set engine of spec.md 4.E:
// a uniform add/search/radius_search/classify/get_descriptors/train
// contract over five index back-ends, plus the process-wide path→handle
// cache spec.md §9 requires. Grounded on
// original_source/src/DescriptorsManager.cc/h for the responsibility
// split (one Set per path, a manager owning the cache and lock) and on
// original_source/src/Descriptors* for the per-engine contract this
// package's Set interface generalizes.
package descriptor

import (
	"errors"
	"fmt"
	"sync"
)

// Metric is the distance function a set was created with.
type Metric string

const (
	MetricL2 Metric = "L2"
	MetricIP Metric = "IP"
)

// Engine names the index variant backing a set, recorded in eng_info.txt
// (spec.md 4.E "Persistence layout").
type Engine string

const (
	EngineFlat   Engine = "Flat"
	EngineIVF    Engine = "IVF"
	EngineDense  Engine = "Dense"
	EngineSparse Engine = "Sparse"
	EngineLSH    Engine = "LSH"
)

// ErrNotImplemented is returned by train() on engines that don't require
// training, per spec.md 4.E's operation table.
var ErrNotImplemented = errors.New("descriptor: operation not implemented for this engine")

// ErrNotFinalized is returned by search on an LSH-style set before
// finalize_index has been called.
var ErrNotFinalized = errors.New("descriptor: index not finalized")

// ErrDimensionMismatch signals a vector whose length disagrees with the
// set's configured dimensionality.
var ErrDimensionMismatch = errors.New("descriptor: dimension mismatch")

// SearchResult is one row of a search/radius_search/classify response:
// parallel id/distance slices, padded with -1 ids where spec.md 4.E
// requires it.
type SearchResult struct {
	IDs       []int64
	Distances []float32
}

// Set is the uniform contract every engine variant implements (spec.md
// 4.E). Dispatch over variants is interface satisfaction, not a sum type,
// since each variant's storage layout differs enough that a shared
// struct would just be a union of mostly-unused fields.
type Set interface {
	// Add appends vectors (row-major, n*Dimensions() floats) with
	// optional parallel labels, returning the first assigned id; ids are
	// contiguous starting at the set's current count.
	Add(vectors [][]float32, labels []int64) (int64, error)

	// Search runs nq queries for the k nearest neighbors each, ordered
	// by ascending distance.
	Search(queries [][]float32, k int) ([]SearchResult, error)

	// RadiusSearch returns all ids within r of query, truncated to the
	// caller's buffer size.
	RadiusSearch(query []float32, radius float32, limit int) (SearchResult, error)

	// Classify majority-votes the label among the quorum nearest
	// neighbors of each query vector; ties break by first-seen, empty
	// votes return -1.
	Classify(queries [][]float32, quorum int) ([]int64, error)

	// GetDescriptors returns the stored vectors for ids, -1-filled rows
	// for unknown ids.
	GetDescriptors(ids []int64) ([][]float32, error)

	// Train trains the index from an optional sample; engines that
	// don't require training return ErrNotImplemented.
	Train(samples [][]float32) error

	// FinalizeIndex commits any pending index structure; required by
	// LSH before first search, a no-op for other engines.
	FinalizeIndex() error

	// Store persists index, metadata, and labels map to path, or to the
	// set's existing directory when path is empty.
	Store(path string) error

	Dimensions() int
	Metric() Metric
	EngineName() Engine
	Count() int64

	SetLabelsMap(labels map[int64]string) error
	GetLabelsMap() map[int64]string
	LabelIDToString(ids []int64) []string
	GetLabelID(label string) int64

	Close() error
}

// OpenFunc constructs a Set from an on-disk/DB-backed path for an
// already-created descriptor set directory.
type OpenFunc func(path string, dim int, metric Metric) (Set, error)

// CreateFunc creates a brand-new set directory/table.
type CreateFunc func(path string, dim int, metric Metric) (Set, error)

// Manager is the process-wide path→handle cache of spec.md §9: opening an
// index is expensive, so handles are kept alive and shared across
// concurrent commands, each guarded by its own lock for the duration of
// add/search/store.
type Manager struct {
	mu      sync.Mutex
	opens   map[Engine]OpenFunc
	creates map[Engine]CreateFunc
	handles map[string]*handle
}

type handle struct {
	mu  sync.Mutex
	set Set
}

// NewManager builds an empty cache. Engine constructors are registered
// via RegisterEngine so this package has no import-time dependency on
// the flatset/ivfset/denseset/sparseset/lshset packages (they register
// themselves from an init or from cmd/vdms-server's wiring).
func NewManager() *Manager {
	return &Manager{
		opens:   map[Engine]OpenFunc{},
		creates: map[Engine]CreateFunc{},
		handles: map[string]*handle{},
	}
}

// RegisterEngine wires an engine variant's open/create constructors into
// the manager.
func (m *Manager) RegisterEngine(name Engine, open OpenFunc, create CreateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[name] = open
	m.creates[name] = create
}

// Create makes a new set directory at path for the given engine and
// registers it in the cache.
func (m *Manager) Create(path string, engine Engine, dim int, metric Metric) (Set, error) {
	m.mu.Lock()
	create, ok := m.creates[engine]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("descriptor: engine %q not supported", engine)
	}
	set, err := create(path, dim, metric)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.handles[path] = &handle{set: set}
	m.mu.Unlock()
	return set, nil
}

// Acquire returns the cached handle for path, opening it with engine's
// OpenFunc on first access. fn runs with the handle's lock held, so
// callers never interleave add/search/store on the same set.
func (m *Manager) Acquire(path string, engine Engine, dim int, metric Metric, fn func(Set) error) error {
	m.mu.Lock()
	h, ok := m.handles[path]
	if !ok {
		open, ok := m.opens[engine]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("descriptor: engine %q not supported", engine)
		}
		m.mu.Unlock()
		set, err := open(path, dim, metric)
		if err != nil {
			return err
		}
		m.mu.Lock()
		if existing, raced := m.handles[path]; raced {
			h = existing
			_ = set.Close()
		} else {
			h = &handle{set: set}
			m.handles[path] = h
		}
	}
	m.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.set)
}

// CloseAll flushes and releases every cached handle, called during
// graceful shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for path, h := range m.handles {
		h.mu.Lock()
		if err := h.set.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("descriptor: closing %s: %w", path, err)
		}
		h.mu.Unlock()
	}
	m.handles = map[string]*handle{}
	return firstErr
}
