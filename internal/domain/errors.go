package domain

import "errors"

var (
	// ErrNotFound reports an unknown document or chunk id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateHash reports that an active document already carries the
	// same content hash. It is a control-flow signal, not a failure.
	ErrDuplicateHash = errors.New("duplicate content hash")

	// ErrStaleDuplicate reports a resolution for a duplicate conflict that no
	// longer matches: unknown token, expired pending upload, changed file
	// bytes, or an existing document that vanished in the meantime.
	ErrStaleDuplicate = errors.New("stale duplicate resolution")

	// ErrDimensionMismatch reports a vector whose dimension disagrees with
	// the one fixed at index creation.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorruptState reports that the persisted chunk and vector id sets
	// disagree. Mutations are refused until an operator repair.
	ErrCorruptState = errors.New("corrupt persisted state")

	// ErrIngestionFailed wraps collaborator failures during ingestion.
	// No store mutation is retained when it is returned.
	ErrIngestionFailed = errors.New("ingestion failed")

	// ErrAnswerGenerationFailed wraps generation-collaborator failures.
	ErrAnswerGenerationFailed = errors.New("answer generation failed")
)
