package usecase

import (
	"errors"
	"fmt"
	"sync"

	"pdfrag/config"
	"pdfrag/internal/adapter/chunker"
	"pdfrag/internal/adapter/store"
	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

// Engine owns the chunk store, vector index, and document registry, and
// serializes every mutation behind a single lock. Reads go straight to
// the component-level structures and are never blocked by slow
// collaborator calls: embedding happens before the lock is taken.
type Engine struct {
	cfg       *config.Config
	embedder  port.Embedder
	llm       port.LLM
	extractor port.TextExtractor
	chunker   *chunker.WordChunker

	mu        sync.Mutex // mutation lock: ingest, resolve, delete, compact
	chunks    *store.ChunkStore
	index     *store.VectorIndex
	registry  *store.Registry
	persister *store.Persister
	corrupt   bool

	pendingMu sync.Mutex
	pending   map[string]*domain.PendingUpload
}

// Open loads the persisted knowledge base and wires the collaborators.
// A chunk/vector id-set disagreement on disk does not fail the open:
// the engine comes up read-only and refuses mutations with ErrCorruptState
// until Repair is run.
func Open(cfg *config.Config, embedder port.Embedder, llmClient port.LLM, extractor port.TextExtractor) (*Engine, error) {
	if err := cfg.EnsureStorageDir(); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	persister, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		embedder:  embedder,
		llm:       llmClient,
		extractor: extractor,
		chunker:   chunker.NewWordChunker(cfg.Chunking.Words, cfg.Chunking.Overlap),
		chunks:    store.NewChunkStore(),
		index:     store.NewVectorIndex(embedder.Dimension()),
		registry:  store.NewRegistry(),
		persister: persister,
		pending:   make(map[string]*domain.PendingUpload),
	}

	st, err := persister.Load()
	if err != nil {
		if !errors.Is(err, domain.ErrCorruptState) {
			persister.Close()
			return nil, err
		}
		e.corrupt = true
	}

	e.chunks.Load(st.Chunks, st.Tombstones, st.NextChunkID)
	if err := e.index.Load(st.Vectors, st.Tombstones); err != nil {
		if !errors.Is(err, domain.ErrDimensionMismatch) {
			persister.Close()
			return nil, err
		}
		// A stored vector with the wrong dimension must not brick the
		// knowledge base: come up read-only with an empty index so the
		// operator can still list documents and run a repair.
		e.index = store.NewVectorIndex(embedder.Dimension())
		e.corrupt = true
	}
	e.registry.Load(st.Docs)

	return e, nil
}

func (e *Engine) Close() error {
	return e.persister.Close()
}

// Corrupt reports whether the engine refuses mutations pending a repair.
func (e *Engine) Corrupt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.corrupt
}

// Documents lists the registry in insertion order.
func (e *Engine) Documents() []domain.Document {
	return e.registry.List()
}

// Stats summarizes the knowledge base.
func (e *Engine) Stats() domain.Stats {
	return domain.Stats{
		TotalDocuments:     e.registry.Count(),
		TotalChunks:        e.chunks.ActiveCount(),
		IndexSize:          e.index.Size(),
		EmbeddingModel:     e.embedder.ModelName(),
		EmbeddingDimension: e.embedder.Dimension(),
	}
}

// Delete removes a document, tombstoning its chunks and vectors.
func (e *Engine) Delete(docID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.corrupt {
		return domain.ErrCorruptState
	}

	if _, err := e.registry.Get(docID); err != nil {
		return err
	}

	ids := e.chunks.IDsForDoc(docID)
	order := without(e.registry.Order(), docID)

	if err := e.persister.Apply(store.Mutation{
		DeleteDocIDs: []string{docID},
		TombstoneIDs: ids,
		DocOrder:     order,
	}); err != nil {
		return fmt.Errorf("failed to persist delete: %w", err)
	}

	e.chunks.RemoveIDs(ids)
	e.index.Remove(ids)
	e.registry.Remove(docID)

	return e.maybeCompactLocked()
}

// Compact rebuilds the index and chunk table without tombstoned entries.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.corrupt {
		return domain.ErrCorruptState
	}
	return e.compactLocked()
}

func (e *Engine) maybeCompactLocked() error {
	if e.index.TombstonedFraction() <= e.cfg.Maintenance.CompactThreshold {
		return nil
	}
	return e.compactLocked()
}

func (e *Engine) compactLocked() error {
	dead := e.chunks.TombstonedIDs()
	if len(dead) == 0 {
		return nil
	}

	if err := e.persister.Apply(store.Mutation{
		PurgeIDs:           dead,
		ClearAllTombstones: true,
	}); err != nil {
		return fmt.Errorf("failed to persist compaction: %w", err)
	}

	e.chunks.Purge()
	e.index.Compact()
	return nil
}

// RepairReport describes what a repair removed to restore alignment.
type RepairReport struct {
	DroppedVectors   int
	RemovedDocuments []domain.Document
}

// Repair restores chunk/vector id-set agreement: orphaned vectors are
// dropped, and documents with chunks that lost their vectors are removed
// entirely and reported for re-ingestion.
func (e *Engine) Repair() (*RepairReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.persister.Load()
	if err != nil && !errors.Is(err, domain.ErrCorruptState) {
		return nil, err
	}

	chunkIDs := make(map[uint64]bool, len(st.Chunks))
	affectedDocs := make(map[string]bool)
	var purgeChunks []uint64
	for _, c := range st.Chunks {
		chunkIDs[c.ID] = true
		// A vector with the wrong dimension is as unusable as a missing one.
		if v, ok := st.Vectors[c.ID]; !ok || len(v) != e.index.Dimension() {
			affectedDocs[c.DocID] = true
		}
	}
	// Remove every chunk of an affected document, not just the broken ones.
	for _, c := range st.Chunks {
		if affectedDocs[c.DocID] {
			purgeChunks = append(purgeChunks, c.ID)
		}
	}

	var orphanVectors []uint64
	for id := range st.Vectors {
		if !chunkIDs[id] {
			orphanVectors = append(orphanVectors, id)
		}
	}

	report := &RepairReport{DroppedVectors: len(orphanVectors)}
	var removeDocIDs []string
	var order []string
	for _, d := range st.Docs {
		if affectedDocs[d.ID] {
			removeDocIDs = append(removeDocIDs, d.ID)
			report.RemovedDocuments = append(report.RemovedDocuments, d)
			continue
		}
		order = append(order, d.ID)
	}
	if order == nil {
		order = []string{}
	}

	if err := e.persister.Apply(store.Mutation{
		DeleteDocIDs:   removeDocIDs,
		PurgeIDs:       purgeChunks,
		PurgeVectorIDs: orphanVectors,
		DocOrder:       order,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist repair: %w", err)
	}

	// Reload the now-consistent state.
	st, err = e.persister.Load()
	if err != nil {
		return nil, err
	}
	e.chunks.Load(st.Chunks, st.Tombstones, st.NextChunkID)
	if err := e.index.Load(st.Vectors, st.Tombstones); err != nil {
		return nil, err
	}
	e.registry.Load(st.Docs)
	e.corrupt = false

	return report, nil
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
