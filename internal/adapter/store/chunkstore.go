package store

import (
	"fmt"
	"sort"
	"sync"

	"pdfrag/internal/domain"
)

// ChunkStore is the in-memory arena of text chunks, addressed by dense
// uint64 ids shared with the vector index. Deletion tombstones entries;
// ids are never renumbered or reused. Durable state lives in the bolt
// persister and is loaded here at startup.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[uint64]domain.Chunk
	tombs  map[uint64]struct{}
	nextID uint64
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks: make(map[uint64]domain.Chunk),
		tombs:  make(map[uint64]struct{}),
	}
}

// Load replaces the store contents with persisted state.
func (s *ChunkStore) Load(chunks []domain.Chunk, tombstones []uint64, nextID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[uint64]domain.Chunk, len(chunks))
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	s.tombs = make(map[uint64]struct{}, len(tombstones))
	for _, id := range tombstones {
		s.tombs[id] = struct{}{}
	}
	s.nextID = nextID
}

// Assign stamps consecutive fresh ids onto the given chunks and returns
// them. The next-id counter only advances; callers persist it alongside
// the chunks so replaced documents can never alias old citations.
func (s *ChunkStore) Assign(chunks []domain.Chunk) []domain.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range chunks {
		chunks[i].ID = s.nextID
		s.nextID++
	}
	return chunks
}

// Append makes assigned chunks visible to readers.
func (s *ChunkStore) Append(chunks []domain.Chunk) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, len(chunks))
	for i, c := range chunks {
		s.chunks[c.ID] = c
		ids[i] = c.ID
	}
	return ids
}

// Get returns the chunk with the given id. Tombstoned entries are gone
// from the caller's perspective.
func (s *ChunkStore) Get(id uint64) (domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, dead := s.tombs[id]; dead {
		return domain.Chunk{}, fmt.Errorf("chunk %d: %w", id, domain.ErrNotFound)
	}
	c, ok := s.chunks[id]
	if !ok {
		return domain.Chunk{}, fmt.Errorf("chunk %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// RemoveIDs tombstones the given ids. Remaining ids keep their values.
func (s *ChunkStore) RemoveIDs(ids []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.chunks[id]; ok {
			s.tombs[id] = struct{}{}
		}
	}
}

// AllIDs returns the active (non-tombstoned) chunk ids in ascending order.
func (s *ChunkStore) AllIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.chunks))
	for id := range s.chunks {
		if _, dead := s.tombs[id]; !dead {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IDsForDoc returns the active chunk ids belonging to a document, found by
// a linear scan over the arena. The registry never stores id lists.
func (s *ChunkStore) IDsForDoc(docID string) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint64
	for id, c := range s.chunks {
		if c.DocID != docID {
			continue
		}
		if _, dead := s.tombs[id]; dead {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveCount returns the number of non-tombstoned chunks.
func (s *ChunkStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks) - len(s.tombs)
}

// TombstonedIDs returns the tombstoned ids in ascending order.
func (s *ChunkStore) TombstonedIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.tombs))
	for id := range s.tombs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NextID returns the value the next assigned chunk id will take.
func (s *ChunkStore) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Purge physically drops tombstoned entries and clears the tombstone set.
// Called after the persister has committed the matching purge.
func (s *ChunkStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.tombs {
		delete(s.chunks, id)
	}
	s.tombs = make(map[uint64]struct{})
}
