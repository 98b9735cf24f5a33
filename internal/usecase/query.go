package usecase

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"pdfrag/internal/domain"
)

const noDocumentsAnswer = "No documents have been uploaded yet. Please upload PDF documents first."

const systemPrompt = "You are a helpful assistant that answers questions based ONLY on the provided context. " +
	"If the context does not contain enough information to answer the question, say so clearly. " +
	"Always cite which source document your answer comes from."

// Ask retrieves the nearest chunks for the question and generates a
// grounded answer. topK <= 0 falls back to the configured default.
func (e *Engine) Ask(question string, topK int) (domain.Answer, error) {
	if topK <= 0 {
		topK = e.cfg.Retrieval.TopK
	}

	if e.index.Size() == 0 {
		return domain.Answer{Text: noDocumentsAnswer}, nil
	}

	vectors, err := e.embedder.Embed([]string{question})
	if err != nil {
		return domain.Answer{}, fmt.Errorf("%w: embedding question: %v", domain.ErrAnswerGenerationFailed, err)
	}

	// A search failure is a dimension fault, not a collaborator outage;
	// keep its sentinel so callers can tell the two apart.
	hits, err := e.index.Search(vectors[0], topK)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("searching index: %w", err)
	}
	if len(hits) == 0 {
		return domain.Answer{Text: noDocumentsAnswer}, nil
	}

	chunks := make([]domain.Chunk, 0, len(hits))
	for _, h := range hits {
		c, err := e.chunks.Get(h.ID)
		if err != nil {
			continue
		}
		chunks = append(chunks, c)
	}

	prompt := e.buildPrompt(question, chunks)

	text, err := e.llm.GenerateWithSystem(systemPrompt, prompt)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %v", domain.ErrAnswerGenerationFailed, err)
	}

	return domain.Answer{
		Text:          text,
		Sources:       e.supportingSources(text, chunks),
		NumChunksUsed: len(chunks),
	}, nil
}

// buildPrompt labels each retrieved chunk with its filename and page so
// the model can cite them.
func (e *Engine) buildPrompt(question string, chunks []domain.Chunk) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for _, c := range chunks {
		filename := "unknown"
		if doc, err := e.registry.Get(c.DocID); err == nil {
			filename = doc.Filename
		}
		fmt.Fprintf(&b, "[Source: %s, Page %d]\n%s\n\n", filename, c.Page, c.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// supportingSources keeps only the retrieved chunks whose vocabulary
// actually overlaps the generated answer, so the citation list is not
// padded with chunks the model ignored. Overlap is the Ochiai
// coefficient over lowercased word sets.
func (e *Engine) supportingSources(answer string, chunks []domain.Chunk) []domain.Source {
	answerWords := wordSet(answer)

	var sources []domain.Source
	seen := make(map[string]bool)
	for _, c := range chunks {
		if ochiai(answerWords, wordSet(c.Text)) < e.cfg.Retrieval.SupportThreshold {
			continue
		}
		doc, err := e.registry.Get(c.DocID)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%s:%d", doc.Filename, c.Page)
		if seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, domain.Source{Filename: doc.Filename, Page: c.Page})
	}
	return sources
}

var wordPattern = regexp.MustCompile(`\p{L}+`)

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		set[w] = true
	}
	return set
}

// ochiai is |A∩B| / sqrt(|A|*|B|), a length-normalized set overlap.
func ochiai(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if b[w] {
			common++
		}
	}
	return float64(common) / math.Sqrt(float64(len(a))*float64(len(b)))
}
