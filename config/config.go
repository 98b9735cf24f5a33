package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pdfrag tool.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Generation  GenerationConfig  `yaml:"generation"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig holds persistent storage configuration.
type StorageConfig struct {
	Dir string `yaml:"dir"` // directory holding knowledge.db
}

// ChunkingConfig holds text chunking configuration.
type ChunkingConfig struct {
	Words   int `yaml:"words"`   // words per chunk
	Overlap int `yaml:"overlap"` // overlapping words between consecutive chunks
}

// RetrievalConfig holds retrieval and citation configuration.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	SupportThreshold float64 `yaml:"support_threshold"` // min lexical overlap for a chunk to be cited
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`    // "openai", "ollama", "mock"
	Model     string `yaml:"model"`       // e.g., "all-minilm"
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// GenerationConfig holds answer-generation configuration.
type GenerationConfig struct {
	Provider  string `yaml:"provider"` // "openai", "ollama", "mock"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// MaintenanceConfig holds compaction and pending-upload configuration.
type MaintenanceConfig struct {
	CompactThreshold  float64 `yaml:"compact_threshold"`   // tombstoned fraction triggering compaction
	PendingTTLMinutes int     `yaml:"pending_ttl_minutes"` // lifetime of an unresolved duplicate upload
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir: ".pdfrag",
		},
		Chunking: ChunkingConfig{
			Words:   200,
			Overlap: 50,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			SupportThreshold: 0.18,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 384,
			BatchSize: 100,
		},
		Generation: GenerationConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Maintenance: MaintenanceConfig{
			CompactThreshold:  0.30,
			PendingTTLMinutes: 15,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for pdfrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "pdfrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".pdfrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DBPath returns the path to the knowledge base database.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.Dir, "knowledge.db")
}

// EnsureStorageDir ensures the storage directory exists.
func (c *Config) EnsureStorageDir() error {
	return os.MkdirAll(c.Storage.Dir, 0755)
}

// PendingTTL returns the pending-upload lifetime as a duration.
func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.Maintenance.PendingTTLMinutes) * time.Minute
}
