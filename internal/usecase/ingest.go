package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pdfrag/internal/adapter/store"
	"pdfrag/internal/domain"
)

// Upload runs the ingestion pipeline for one file. Byte-identical content
// already in the registry short-circuits into a duplicate result carrying
// a resolution token; nothing is embedded or stored for the duplicate.
func (e *Engine) Upload(ctx context.Context, filename string, data []byte) (domain.UploadResult, error) {
	if e.Corrupt() {
		return errorResult(filename, "knowledge base needs repair"), domain.ErrCorruptState
	}

	hash := contentHash(data)

	if existing, ok := e.registry.FindByHash(hash); ok {
		return e.stallDuplicate(filename, hash, existing), nil
	}

	pages, err := e.extractor.Extract(ctx, data)
	if err != nil {
		return errorResult(filename, "text extraction failed"),
			fmt.Errorf("%w: extracting %s: %v", domain.ErrIngestionFailed, filename, err)
	}

	drafts := e.chunkPages(pages)

	// Scanned pages without OCR text yield zero chunks; the document is
	// still registered so re-uploading it dedups instead of re-extracting.
	if len(drafts) == 0 {
		return e.commitEmpty(filename, hash, len(pages))
	}

	texts := make([]string, len(drafts))
	for i, c := range drafts {
		texts[i] = c.Text
	}

	// Embedding is the slow call; it happens before the mutation lock so
	// readers and other uploads are not held up behind it.
	vectors, err := e.embedder.Embed(texts)
	if err != nil {
		return errorResult(filename, "embedding failed"),
			fmt.Errorf("%w: embedding %s: %v", domain.ErrIngestionFailed, filename, err)
	}
	if len(vectors) != len(texts) {
		return errorResult(filename, "embedding failed"),
			fmt.Errorf("%w: embedder returned %d vectors for %d chunks", domain.ErrIngestionFailed, len(vectors), len(texts))
	}
	// An embedder whose output disagrees with its declared dimension must be
	// caught here, before anything is persisted.
	for i, v := range vectors {
		if len(v) != e.index.Dimension() {
			return errorResult(filename, "embedding failed"),
				fmt.Errorf("%w: chunk %d embedded with dimension %d, index expects %d: %w",
					domain.ErrIngestionFailed, i, len(v), e.index.Dimension(), domain.ErrDimensionMismatch)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A concurrent upload may have committed the same content while this
	// one was embedding; re-check under the lock.
	if existing, ok := e.registry.FindByHash(hash); ok {
		return e.stallDuplicate(filename, hash, existing), nil
	}

	doc := domain.Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentHash: hash,
		UploadedAt:  time.Now().UTC(),
		NumPages:    numPages(pages),
		NumChunks:   len(drafts),
	}

	if err := e.commitIngestLocked(doc, drafts, vectors); err != nil {
		return errorResult(filename, "failed to persist document"), err
	}

	return domain.UploadResult{
		Status:   domain.StatusSuccess,
		Filename: filename,
		DocID:    doc.ID,
		Chunks:   doc.NumChunks,
		Pages:    doc.NumPages,
		Message:  "document processed successfully",
	}, nil
}

// commitIngestLocked appends chunks, vectors, and the registry entry as
// one persisted transaction, then makes them visible to readers. Caller
// holds the mutation lock.
func (e *Engine) commitIngestLocked(doc domain.Document, drafts []domain.Chunk, vectors [][]float32) error {
	for i := range drafts {
		drafts[i].DocID = doc.ID
	}
	drafts = e.chunks.Assign(drafts)

	vecByID := make(map[uint64][]float32, len(drafts))
	ids := make([]uint64, len(drafts))
	for i, c := range drafts {
		vecByID[c.ID] = vectors[i]
		ids[i] = c.ID
	}

	next := e.chunks.NextID()
	order := append(e.registry.Order(), doc.ID)

	if err := e.persister.Apply(store.Mutation{
		PutDocs:     []domain.Document{doc},
		PutChunks:   drafts,
		PutVectors:  vecByID,
		NextChunkID: &next,
		DocOrder:    order,
	}); err != nil {
		return fmt.Errorf("failed to persist ingest: %w", err)
	}

	e.chunks.Append(drafts)
	if err := e.index.Add(ids, vectors); err != nil {
		return err
	}
	return e.registry.Register(doc)
}

func (e *Engine) commitEmpty(filename, hash string, pages int) (domain.UploadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.registry.FindByHash(hash); ok {
		return e.stallDuplicate(filename, hash, existing), nil
	}

	doc := domain.Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentHash: hash,
		UploadedAt:  time.Now().UTC(),
		NumPages:    pages,
		NumChunks:   0,
	}

	next := e.chunks.NextID()
	order := append(e.registry.Order(), doc.ID)
	if err := e.persister.Apply(store.Mutation{
		PutDocs:     []domain.Document{doc},
		NextChunkID: &next,
		DocOrder:    order,
	}); err != nil {
		return errorResult(filename, "failed to persist document"), err
	}
	if err := e.registry.Register(doc); err != nil {
		return errorResult(filename, "failed to register document"), err
	}

	return domain.UploadResult{
		Status:   domain.StatusEmpty,
		Filename: filename,
		DocID:    doc.ID,
		Pages:    pages,
		Message:  "no text could be extracted",
	}, nil
}

// stallDuplicate parks the upload as a PendingUpload and reports the
// conflict. The pending chunks and vectors are copied from the already
// stored document: the content hashes match, so the bytes are identical
// and re-embedding them would compute the same vectors again.
func (e *Engine) stallDuplicate(filename, hash string, existing domain.Document) domain.UploadResult {
	ids := e.chunks.IDsForDoc(existing.ID)
	chunks := make([]domain.Chunk, 0, len(ids))
	vectors := make([][]float32, 0, len(ids))
	for _, id := range ids {
		c, err := e.chunks.Get(id)
		if err != nil {
			continue
		}
		v, ok := e.index.VectorOf(id)
		if !ok {
			continue
		}
		chunks = append(chunks, domain.Chunk{Text: c.Text, Page: c.Page})
		vectors = append(vectors, v)
	}

	pending := &domain.PendingUpload{
		Token:         uuid.NewString(),
		Filename:      filename,
		ContentHash:   hash,
		ExistingDocID: existing.ID,
		Chunks:        chunks,
		Vectors:       vectors,
		NumPages:      existing.NumPages,
		CreatedAt:     time.Now().UTC(),
	}

	e.pendingMu.Lock()
	e.prunePendingLocked()
	e.pending[pending.Token] = pending
	e.pendingMu.Unlock()

	return domain.UploadResult{
		Status:           domain.StatusDuplicate,
		Filename:         filename,
		ExistingFilename: existing.Filename,
		Token:            pending.Token,
		Hash:             hash,
		Message:          fmt.Sprintf("document already exists as %q", existing.Filename),
	}
}

// Resolve completes a stalled duplicate upload with the user's chosen
// action. The caller must supply the same file bytes again; any mismatch
// with the stored fingerprint fails with ErrStaleDuplicate.
func (e *Engine) Resolve(ctx context.Context, token string, data []byte, action domain.ResolveAction) (domain.UploadResult, error) {
	e.pendingMu.Lock()
	e.prunePendingLocked()
	pending, ok := e.pending[token]
	e.pendingMu.Unlock()
	if !ok {
		return domain.UploadResult{}, fmt.Errorf("unknown or expired token: %w", domain.ErrStaleDuplicate)
	}

	if contentHash(data) != pending.ContentHash {
		return domain.UploadResult{}, fmt.Errorf("file does not match the pending duplicate: %w", domain.ErrStaleDuplicate)
	}

	switch action {
	case domain.ActionCancel:
		e.discardPending(token)
		return domain.UploadResult{
			Status:   domain.StatusCancelled,
			Filename: pending.Filename,
			Message:  "upload cancelled",
		}, nil

	case domain.ActionUseExisting:
		existing, err := e.registry.Get(pending.ExistingDocID)
		if err != nil {
			e.discardPending(token)
			return domain.UploadResult{}, fmt.Errorf("existing document is gone: %w", domain.ErrStaleDuplicate)
		}
		e.discardPending(token)
		return domain.UploadResult{
			Status:   domain.StatusSuccess,
			Filename: existing.Filename,
			DocID:    existing.ID,
			Chunks:   existing.NumChunks,
			Pages:    existing.NumPages,
			Message:  "using existing document embeddings",
		}, nil

	case domain.ActionReplace:
		return e.replace(token, pending)

	default:
		return domain.UploadResult{}, fmt.Errorf("unknown action %q", action)
	}
}

// replace swaps the existing document's chunks for the pending ones under
// one persisted transaction. The document id is kept so references held
// by clients stay valid; chunk ids are fresh, never reused.
func (e *Engine) replace(token string, pending *domain.PendingUpload) (domain.UploadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.corrupt {
		return domain.UploadResult{}, domain.ErrCorruptState
	}

	existing, err := e.registry.Get(pending.ExistingDocID)
	if err != nil {
		e.discardPending(token)
		return domain.UploadResult{}, fmt.Errorf("existing document is gone: %w", domain.ErrStaleDuplicate)
	}

	oldIDs := e.chunks.IDsForDoc(existing.ID)

	drafts := make([]domain.Chunk, len(pending.Chunks))
	copy(drafts, pending.Chunks)
	for i := range drafts {
		drafts[i].DocID = existing.ID
	}
	drafts = e.chunks.Assign(drafts)

	vecByID := make(map[uint64][]float32, len(drafts))
	ids := make([]uint64, len(drafts))
	for i, c := range drafts {
		vecByID[c.ID] = pending.Vectors[i]
		ids[i] = c.ID
	}

	doc := existing
	doc.Filename = pending.Filename
	doc.ContentHash = pending.ContentHash
	doc.UploadedAt = time.Now().UTC()
	doc.NumPages = pending.NumPages
	doc.NumChunks = len(drafts)

	next := e.chunks.NextID()
	if err := e.persister.Apply(store.Mutation{
		PutDocs:      []domain.Document{doc},
		PutChunks:    drafts,
		PutVectors:   vecByID,
		TombstoneIDs: oldIDs,
		NextChunkID:  &next,
	}); err != nil {
		return domain.UploadResult{}, fmt.Errorf("failed to persist replace: %w", err)
	}

	e.chunks.RemoveIDs(oldIDs)
	e.index.Remove(oldIDs)
	e.chunks.Append(drafts)
	if err := e.index.Add(ids, pending.Vectors); err != nil {
		return domain.UploadResult{}, err
	}
	if err := e.registry.Update(doc); err != nil {
		return domain.UploadResult{}, err
	}

	e.discardPending(token)

	if err := e.maybeCompactLocked(); err != nil {
		return domain.UploadResult{}, err
	}

	return domain.UploadResult{
		Status:   domain.StatusSuccess,
		Filename: doc.Filename,
		DocID:    doc.ID,
		Chunks:   doc.NumChunks,
		Pages:    doc.NumPages,
		Message:  "document replaced",
	}, nil
}

func (e *Engine) discardPending(token string) {
	e.pendingMu.Lock()
	delete(e.pending, token)
	e.pendingMu.Unlock()
}

// prunePendingLocked drops pending uploads past their TTL. Caller holds
// pendingMu.
func (e *Engine) prunePendingLocked() {
	cutoff := time.Now().UTC().Add(-e.cfg.PendingTTL())
	for token, p := range e.pending {
		if p.CreatedAt.Before(cutoff) {
			delete(e.pending, token)
		}
	}
}

func (e *Engine) chunkPages(pages []domain.Page) []domain.Chunk {
	var drafts []domain.Chunk
	for _, page := range pages {
		for _, text := range e.chunker.Chunk(page.Text) {
			drafts = append(drafts, domain.Chunk{Text: text, Page: page.Number})
		}
	}
	return drafts
}

func numPages(pages []domain.Page) int {
	if len(pages) == 0 {
		return 0
	}
	return pages[len(pages)-1].Number
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func errorResult(filename, message string) domain.UploadResult {
	return domain.UploadResult{
		Status:   domain.StatusError,
		Filename: filename,
		Message:  message,
	}
}
