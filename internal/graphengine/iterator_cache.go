package graphengine

import "github.com/RoaringBitmap/roaring/roaring64"

// cachedIterator is what a ref resolves to once some op has populated it:
// either a set of node ids or a set of edge ids. Held for the lifetime of
// one Session (one client envelope, across all its Execute calls), per
// spec.md 4.D "Reusable iterators" /
// 4.C "Reference-to-iterator cache": no global mutable state.
type cachedIterator struct {
	nodeIDs      *roaring64.Bitmap
	edgeIDs      *roaring64.Bitmap
	isEdge       bool
	uniqueOrigin bool // true if populated by a unique-constrained AddNode
}

// iteratorCache is the per-transaction ref->iterator mapping spec.md 4.D
// requires. RoaringBitmap backs the id sets because link traversal and
// nb_unique both need fast membership/union/intersection over potentially
// large neighbor sets - the same reason
// agentic-research-mache/internal/lattice keeps its extents as
// roaring.Bitmap columns rather than plain slices or maps.
type iteratorCache struct {
	byRef map[int]*cachedIterator
}

func newIteratorCache() *iteratorCache {
	return &iteratorCache{byRef: map[int]*cachedIterator{}}
}

func (c *iteratorCache) setNodes(ref int, ids []int64, uniqueOrigin bool) {
	if ref == 0 {
		return
	}
	bm := roaring64.New()
	for _, id := range ids {
		bm.Add(uint64(id))
	}
	c.byRef[ref] = &cachedIterator{nodeIDs: bm, uniqueOrigin: uniqueOrigin}
}

func (c *iteratorCache) setEdges(ref int, ids []int64) {
	if ref == 0 {
		return
	}
	bm := roaring64.New()
	for _, id := range ids {
		bm.Add(uint64(id))
	}
	c.byRef[ref] = &cachedIterator{edgeIDs: bm, isEdge: true}
}

func (c *iteratorCache) get(ref int) (*cachedIterator, bool) {
	it, ok := c.byRef[ref]
	return it, ok
}

// dedupNeighbors applies nb_unique: it returns ids with duplicates
// removed, preserving encounter order, using a bitmap rather than a
// map[int64]bool to stay consistent with the rest of this cache's
// representation.
func dedupNeighbors(ids []int64) []int64 {
	seen := roaring64.New()
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		u := uint64(id)
		if seen.Contains(u) {
			continue
		}
		seen.Add(u)
		out = append(out, id)
	}
	return out
}
