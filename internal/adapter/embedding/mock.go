package embedding

import (
	"crypto/sha256"
	"strings"
)

// MockEmbedder produces deterministic vectors without a model, for tests
// and offline runs. Texts sharing words land near each other, which is
// enough structure for retrieval tests to be meaningful.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Embed(texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dimension)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := sha256.Sum256([]byte(word))
			slot := (int(h[0])<<8 | int(h[1])) % e.dimension
			vec[slot] += 1
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
