package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

// PDFToText extracts per-page text by shelling out to the poppler
// pdftotext binary. pdftotext emits a form feed between pages, which is
// how page boundaries are recovered from its stdout.
type PDFToText struct {
	runner port.CommandRunner
}

func New() *PDFToText {
	return &PDFToText{runner: execRunner{}}
}

// NewWithRunner lets tests substitute the command runner.
func NewWithRunner(runner port.CommandRunner) *PDFToText {
	return &PDFToText{runner: runner}
}

// Extract writes the bytes to a temp file, runs pdftotext, and splits the
// output into pages. Pages with no extractable text are omitted, but page
// numbering still reflects their position in the document.
func (p *PDFToText) Extract(ctx context.Context, fileBytes []byte) ([]domain.Page, error) {
	tmpDir, err := os.MkdirTemp("", "pdfrag-extract-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(tmpFile, fileBytes, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", tmpFile, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}

	return splitPages(string(out)), nil
}

// splitPages turns form-feed separated output into numbered pages,
// dropping pages with no text (e.g. scanned images without OCR).
func splitPages(out string) []domain.Page {
	raw := strings.Split(out, "\f")
	var pages []domain.Page
	for i, text := range raw {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
