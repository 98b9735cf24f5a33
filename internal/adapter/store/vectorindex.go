package store

import (
	"fmt"
	"sort"
	"sync"

	"pdfrag/internal/domain"
)

// Hit is one nearest-neighbor search result.
type Hit struct {
	ID       uint64
	Distance float64
}

// VectorIndex is a flat squared-Euclidean nearest-neighbor index over the
// same id space as the chunk store. Removal tombstones ids; tombstoned
// entries are filtered from every search until a compaction rebuilds the
// backing slices. Brute-force scan, same as the original flat index; fine
// for a single-process knowledge base.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	ids       []uint64
	vectors   [][]float32
	pos       map[uint64]int
	tombs     map[uint64]struct{}
}

func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		pos:       make(map[uint64]int),
		tombs:     make(map[uint64]struct{}),
	}
}

// Dimension returns the vector dimension fixed at creation.
func (x *VectorIndex) Dimension() int {
	return x.dimension
}

// Load replaces the index contents with persisted vectors.
func (x *VectorIndex) Load(vectors map[uint64][]float32, tombstones []uint64) error {
	ids := make([]uint64, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = make([]uint64, 0, len(ids))
	x.vectors = make([][]float32, 0, len(ids))
	x.pos = make(map[uint64]int, len(ids))
	for _, id := range ids {
		v := vectors[id]
		if len(v) != x.dimension {
			return fmt.Errorf("stored vector %d has dimension %d, index expects %d: %w",
				id, len(v), x.dimension, domain.ErrDimensionMismatch)
		}
		x.pos[id] = len(x.ids)
		x.ids = append(x.ids, id)
		x.vectors = append(x.vectors, v)
	}
	x.tombs = make(map[uint64]struct{}, len(tombstones))
	for _, id := range tombstones {
		x.tombs[id] = struct{}{}
	}
	return nil
}

// Add inserts positionally paired ids and vectors.
func (x *VectorIndex) Add(ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != x.dimension {
			return fmt.Errorf("vector %d has dimension %d, index expects %d: %w",
				ids[i], len(v), x.dimension, domain.ErrDimensionMismatch)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range ids {
		x.pos[id] = len(x.ids)
		x.ids = append(x.ids, id)
		x.vectors = append(x.vectors, vectors[i])
	}
	return nil
}

// Search returns up to k active entries ordered by ascending squared
// Euclidean distance, ties broken by ascending chunk id.
func (x *VectorIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query has dimension %d, index expects %d: %w",
			len(query), x.dimension, domain.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]Hit, 0, len(x.ids))
	for i, id := range x.ids {
		if _, dead := x.tombs[id]; dead {
			continue
		}
		hits = append(hits, Hit{ID: id, Distance: sqDistance(query, x.vectors[i])})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Remove tombstones the given ids; they vanish from search results.
func (x *VectorIndex) Remove(ids []uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		if _, ok := x.pos[id]; ok {
			x.tombs[id] = struct{}{}
		}
	}
}

// VectorOf returns the stored vector for an id, tombstoned or not.
func (x *VectorIndex) VectorOf(id uint64) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i, ok := x.pos[id]
	if !ok {
		return nil, false
	}
	return x.vectors[i], true
}

// Size returns the number of active (searchable) entries.
func (x *VectorIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids) - len(x.tombs)
}

// TombstonedFraction reports how much of the index is dead weight.
func (x *VectorIndex) TombstonedFraction() float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.ids) == 0 {
		return 0
	}
	return float64(len(x.tombs)) / float64(len(x.ids))
}

// Compact rebuilds the index without tombstoned entries. The new slices
// are assembled aside and swapped in under the write lock, so in-flight
// reads see either the old or the new index, never a partial rebuild.
func (x *VectorIndex) Compact() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.tombs) == 0 {
		return
	}

	ids := make([]uint64, 0, len(x.ids)-len(x.tombs))
	vectors := make([][]float32, 0, cap(ids))
	pos := make(map[uint64]int, cap(ids))
	for i, id := range x.ids {
		if _, dead := x.tombs[id]; dead {
			continue
		}
		pos[id] = len(ids)
		ids = append(ids, id)
		vectors = append(vectors, x.vectors[i])
	}

	x.ids = ids
	x.vectors = vectors
	x.pos = pos
	x.tombs = make(map[uint64]struct{})
}

func sqDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
