package domain

import "time"

// Document is one ingested file in the registry.
type Document struct {
	ID          string    `json:"doc_id"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash"`
	UploadedAt  time.Time `json:"upload_timestamp"`
	NumPages    int       `json:"num_pages"`
	NumChunks   int       `json:"num_chunks"`
}

// Chunk is a contiguous span of extracted text owned by exactly one document.
// IDs are dense integers shared with the vector index and never reused.
type Chunk struct {
	ID    uint64 `json:"id"`
	Text  string `json:"text"`
	DocID string `json:"doc_id"`
	Page  int    `json:"page"`
}

// Page is per-page extracted text handed to the ingestion pipeline.
type Page struct {
	Number int
	Text   string
}

// UploadStatus classifies the outcome of an upload or resolve call.
type UploadStatus string

const (
	StatusSuccess   UploadStatus = "success"
	StatusDuplicate UploadStatus = "duplicate"
	StatusEmpty     UploadStatus = "empty"
	StatusCancelled UploadStatus = "cancelled"
	StatusError     UploadStatus = "error"
)

// UploadResult reports what happened to a single uploaded file.
type UploadResult struct {
	Status           UploadStatus `json:"status"`
	Filename         string       `json:"filename"`
	DocID            string       `json:"doc_id,omitempty"`
	Chunks           int          `json:"chunks,omitempty"`
	Pages            int          `json:"pages,omitempty"`
	Message          string       `json:"message,omitempty"`
	ExistingFilename string       `json:"existing_filename,omitempty"`
	Token            string       `json:"token,omitempty"`
	Hash             string       `json:"hash,omitempty"`
}

// ResolveAction is the user's choice for a duplicate-upload conflict.
type ResolveAction string

const (
	ActionUseExisting ResolveAction = "use_existing"
	ActionReplace     ResolveAction = "replace"
	ActionCancel      ResolveAction = "cancel"
)

// PendingUpload holds the state of an upload stalled on duplicate resolution.
// It lives only in process memory, correlated by token; a restart discards it.
type PendingUpload struct {
	Token         string
	Filename      string
	ContentHash   string
	ExistingDocID string
	Chunks        []Chunk
	Vectors       [][]float32
	NumPages      int
	CreatedAt     time.Time
}

// Source is a citation attached to an answer.
type Source struct {
	Filename string `json:"file"`
	Page     int    `json:"page"`
}

// Answer is the result of a question against the knowledge base.
type Answer struct {
	Text          string   `json:"answer"`
	Sources       []Source `json:"sources"`
	NumChunksUsed int      `json:"num_chunks_used"`
}

// Stats summarizes the state of the knowledge base.
type Stats struct {
	TotalDocuments     int    `json:"total_documents"`
	TotalChunks        int    `json:"total_chunks"`
	IndexSize          int    `json:"index_size"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}
