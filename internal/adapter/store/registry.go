package store

import (
	"fmt"
	"sync"

	"pdfrag/internal/domain"
)

// Registry maps document ids to ingestion metadata and enforces the
// active-hash uniqueness invariant. Listing preserves insertion order.
type Registry struct {
	mu     sync.RWMutex
	docs   map[string]domain.Document
	byHash map[string]string // content hash -> doc id
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{
		docs:   make(map[string]domain.Document),
		byHash: make(map[string]string),
	}
}

// Load replaces the registry contents with persisted documents, in order.
func (r *Registry) Load(docs []domain.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]domain.Document, len(docs))
	r.byHash = make(map[string]string, len(docs))
	r.order = make([]string, 0, len(docs))
	for _, d := range docs {
		r.docs[d.ID] = d
		r.byHash[d.ContentHash] = d.ID
		r.order = append(r.order, d.ID)
	}
}

// FindByHash returns the active document with the given content hash.
func (r *Registry) FindByHash(hash string) (domain.Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[hash]
	if !ok {
		return domain.Document{}, false
	}
	return r.docs[id], true
}

// Get returns a document by id.
func (r *Registry) Get(id string) (domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

// Register adds a new document. Duplicate conflicts must have been
// resolved before calling; an active document with the same hash is an
// error here.
func (r *Registry) Register(doc domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byHash[doc.ContentHash]; ok {
		return fmt.Errorf("hash %s already registered as %s: %w",
			doc.ContentHash, id, domain.ErrDuplicateHash)
	}
	r.docs[doc.ID] = doc
	r.byHash[doc.ContentHash] = doc.ID
	r.order = append(r.order, doc.ID)
	return nil
}

// Update replaces a document's metadata in place. The id keeps its slot
// in the listing order; the hash mapping follows the new hash.
func (r *Registry) Update(doc domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.docs[doc.ID]
	if !ok {
		return fmt.Errorf("document %s: %w", doc.ID, domain.ErrNotFound)
	}
	if r.byHash[old.ContentHash] == doc.ID {
		delete(r.byHash, old.ContentHash)
	}
	r.docs[doc.ID] = doc
	r.byHash[doc.ContentHash] = doc.ID
	return nil
}

// Remove deletes a document, freeing its hash for future ingests.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(r.docs, id)
	if r.byHash[doc.ContentHash] == id {
		delete(r.byHash, doc.ContentHash)
	}
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all documents in insertion order.
func (r *Registry) List() []domain.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]domain.Document, 0, len(r.order))
	for _, id := range r.order {
		docs = append(docs, r.docs[id])
	}
	return docs
}

// Order returns the current listing order of document ids.
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of active documents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
