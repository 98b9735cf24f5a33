package chunker

import "strings"

// WordChunker splits page text into fixed-size word windows with overlap.
// Overlap carries cross-boundary context into adjacent chunks so retrieval
// does not lose sentences cut at a window edge.
type WordChunker struct {
	words   int
	overlap int
}

func NewWordChunker(words, overlap int) *WordChunker {
	if words <= 0 {
		words = 200
	}
	if overlap < 0 || overlap >= words {
		overlap = words / 4
	}
	return &WordChunker{words: words, overlap: overlap}
}

// Chunk splits text into overlapping word windows. Whitespace-only
// windows are dropped.
func (c *WordChunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	step := c.words - c.overlap
	for start := 0; start < len(words); start += step {
		end := start + c.words
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[start:end], " ")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(words) {
			break
		}
	}
	return chunks
}
