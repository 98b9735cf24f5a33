package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"pdfrag/internal/domain"
)

var (
	bucketChunks     = []byte("chunks")
	bucketVectors    = []byte("vectors")
	bucketTombstones = []byte("tombstones")
	bucketDocs       = []byte("docs")
	bucketMeta       = []byte("meta")
	keyNextChunkID   = []byte("next_chunk_id")
	keyDocOrder      = []byte("doc_order")
)

// Persister is the durable backing for the chunk store, vector index, and
// document registry. Every completed mutation is committed in a single
// bolt transaction, so a crash mid-write leaves the previous durable state
// intact and the three structures can never diverge on disk.
type Persister struct {
	db *bbolt.DB
}

// Open opens (or creates) the knowledge base database.
func Open(path string) (*Persister, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketChunks, bucketVectors, bucketTombstones, bucketDocs, bucketMeta}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Persister{db: db}, nil
}

func (p *Persister) Close() error {
	return p.db.Close()
}

type chunkRecord struct {
	Text  string `json:"text"`
	DocID string `json:"doc_id"`
	Page  int    `json:"page"`
}

type vectorRecord struct {
	Vector []float32 `json:"v"`
}

type docRecord struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	UploadedAt  int64  `json:"upload_timestamp"`
	NumPages    int    `json:"num_pages"`
	NumChunks   int    `json:"num_chunks"`
}

// State is everything loaded from disk at startup.
type State struct {
	Chunks      []domain.Chunk
	Vectors     map[uint64][]float32
	Tombstones  []uint64
	Docs        []domain.Document // in listing order
	NextChunkID uint64
}

// Load reads all persisted state and validates that the chunk and vector
// id sets agree. On disagreement the state is still returned alongside
// ErrCorruptState so the caller can serve reads and drive a repair.
func (p *Persister) Load() (*State, error) {
	st := &State{Vectors: make(map[uint64][]float32)}

	err := p.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			var rec chunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("chunk %d: %w", keyToID(k), err)
			}
			st.Chunks = append(st.Chunks, domain.Chunk{
				ID:    keyToID(k),
				Text:  rec.Text,
				DocID: rec.DocID,
				Page:  rec.Page,
			})
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var rec vectorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("vector %d: %w", keyToID(k), err)
			}
			st.Vectors[keyToID(k)] = rec.Vector
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketTombstones).ForEach(func(k, _ []byte) error {
			st.Tombstones = append(st.Tombstones, keyToID(k))
			return nil
		}); err != nil {
			return err
		}

		docs := make(map[string]domain.Document)
		if err := tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var rec docRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("document %s: %w", k, err)
			}
			docs[string(k)] = domain.Document{
				ID:          string(k),
				Filename:    rec.Filename,
				ContentHash: rec.ContentHash,
				UploadedAt:  time.Unix(rec.UploadedAt, 0).UTC(),
				NumPages:    rec.NumPages,
				NumChunks:   rec.NumChunks,
			}
			return nil
		}); err != nil {
			return err
		}

		meta := tx.Bucket(bucketMeta)
		if raw := meta.Get(keyNextChunkID); raw != nil {
			st.NextChunkID = binary.BigEndian.Uint64(raw)
		}

		var order []string
		if raw := meta.Get(keyDocOrder); raw != nil {
			if err := json.Unmarshal(raw, &order); err != nil {
				return fmt.Errorf("doc order: %w", err)
			}
		}
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			if doc, ok := docs[id]; ok {
				st.Docs = append(st.Docs, doc)
				seen[id] = true
			}
		}
		for id, doc := range docs {
			if !seen[id] {
				st.Docs = append(st.Docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := verify(st); err != nil {
		return st, err
	}
	return st, nil
}

// verify checks the chunk-id alignment invariant between the chunk table
// and the vector table.
func verify(st *State) error {
	if len(st.Chunks) != len(st.Vectors) {
		return fmt.Errorf("chunk table has %d entries, vector table has %d: %w",
			len(st.Chunks), len(st.Vectors), domain.ErrCorruptState)
	}
	for _, c := range st.Chunks {
		if _, ok := st.Vectors[c.ID]; !ok {
			return fmt.Errorf("chunk %d has no vector: %w", c.ID, domain.ErrCorruptState)
		}
	}
	return nil
}

// Mutation is one atomic change to the persisted state. Zero-value fields
// are no-ops, so each engine operation fills in just what it touches.
type Mutation struct {
	PutDocs            []domain.Document
	DeleteDocIDs       []string
	PutChunks          []domain.Chunk
	PutVectors         map[uint64][]float32
	TombstoneIDs       []uint64
	PurgeIDs           []uint64 // drop chunk, vector, and tombstone entries
	PurgeVectorIDs     []uint64 // drop vector entries only (repair)
	ClearAllTombstones bool
	NextChunkID        *uint64
	DocOrder           []string // nil leaves the order untouched
}

// Apply commits a mutation in a single transaction.
func (p *Persister) Apply(m Mutation) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)
		vectors := tx.Bucket(bucketVectors)
		tombs := tx.Bucket(bucketTombstones)
		docs := tx.Bucket(bucketDocs)
		meta := tx.Bucket(bucketMeta)

		for _, c := range m.PutChunks {
			data, err := json.Marshal(chunkRecord{Text: c.Text, DocID: c.DocID, Page: c.Page})
			if err != nil {
				return err
			}
			if err := chunks.Put(idToKey(c.ID), data); err != nil {
				return err
			}
		}

		for id, v := range m.PutVectors {
			data, err := json.Marshal(vectorRecord{Vector: v})
			if err != nil {
				return err
			}
			if err := vectors.Put(idToKey(id), data); err != nil {
				return err
			}
		}

		for _, id := range m.TombstoneIDs {
			if err := tombs.Put(idToKey(id), nil); err != nil {
				return err
			}
		}

		for _, id := range m.PurgeIDs {
			key := idToKey(id)
			if err := chunks.Delete(key); err != nil {
				return err
			}
			if err := vectors.Delete(key); err != nil {
				return err
			}
			if err := tombs.Delete(key); err != nil {
				return err
			}
		}

		for _, id := range m.PurgeVectorIDs {
			if err := vectors.Delete(idToKey(id)); err != nil {
				return err
			}
		}

		if m.ClearAllTombstones {
			if err := clearBucket(tombs); err != nil {
				return err
			}
		}

		for _, d := range m.PutDocs {
			data, err := json.Marshal(docRecord{
				Filename:    d.Filename,
				ContentHash: d.ContentHash,
				UploadedAt:  d.UploadedAt.Unix(),
				NumPages:    d.NumPages,
				NumChunks:   d.NumChunks,
			})
			if err != nil {
				return err
			}
			if err := docs.Put([]byte(d.ID), data); err != nil {
				return err
			}
		}

		for _, id := range m.DeleteDocIDs {
			if err := docs.Delete([]byte(id)); err != nil {
				return err
			}
		}

		if m.NextChunkID != nil {
			if err := meta.Put(keyNextChunkID, idToKey(*m.NextChunkID)); err != nil {
				return err
			}
		}

		if m.DocOrder != nil {
			data, err := json.Marshal(m.DocOrder)
			if err != nil {
				return err
			}
			if err := meta.Put(keyDocOrder, data); err != nil {
				return err
			}
		}

		return nil
	})
}

func clearBucket(b *bbolt.Bucket) error {
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

func idToKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func keyToID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
