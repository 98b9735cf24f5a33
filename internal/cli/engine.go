package cli

import (
	"fmt"

	"pdfrag/config"
	"pdfrag/internal/adapter/embedding"
	"pdfrag/internal/adapter/extractor"
	"pdfrag/internal/adapter/llm"
	"pdfrag/internal/port"
	"pdfrag/internal/usecase"
)

// openEngine wires the configured adapters and opens the knowledge base.
// The caller owns the returned engine and must Close it.
func openEngine(cfg *config.Config) (*usecase.Engine, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	generator, err := newLLM(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	eng, err := usecase.Open(cfg, embedder, generator, extractor.New())
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}

	if eng.Corrupt() {
		fmt.Println("Warning: knowledge base is inconsistent; writes are disabled until 'pdfrag repair' is run.")
	}

	return eng, nil
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model,
			cfg.Embedding.Dimension, cfg.Embedding.BatchSize)
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.Embedding.Model, cfg.Embedding.BaseURL,
			cfg.Embedding.Dimension, cfg.Embedding.BatchSize)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func newLLM(cfg *config.Config) (port.LLM, error) {
	if cfg.Generation.Provider == "mock" {
		return llm.NewMockLLM("mock answer"), nil
	}
	return llm.NewClient(cfg.Generation.Provider, cfg.Generation.Model,
		cfg.Generation.BaseURL, cfg.Generation.APIKeyEnv)
}
