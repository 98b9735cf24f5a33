package port

import (
	"context"

	"pdfrag/internal/domain"
)

// TextExtractor extracts per-page text from a raw document.
// Pages with no extractable text may be omitted from the result.
type TextExtractor interface {
	Extract(ctx context.Context, fileBytes []byte) ([]domain.Page, error)
}

// CommandRunner executes an external command and returns its stdout.
// Kept as an interface so extraction can be tested without the binary.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}
