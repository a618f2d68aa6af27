// Package config loads the application configuration from YAML, with
// sensible defaults when the file is absent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig locates the durable state on disk.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	StorageDir string `yaml:"storage_dir"`
}

// EmbeddingConfig configures the embedding capability.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// LLMConfig configures the generation capability. The API key itself
// comes from the environment, never the config file.
type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// ExtractorConfig configures the document extraction service.
type ExtractorConfig struct {
	ServiceURL string `yaml:"service_url"`
}

// IndexConfig configures chunking and the ingestion decision policy.
type IndexConfig struct {
	ChunkSize            int `yaml:"chunk_size"`
	ChunkOverlap         int `yaml:"chunk_overlap"`
	IncrementalThreshold int `yaml:"incremental_threshold"`
}

// RetrievalConfig configures query-time filtering.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxCandidates       int     `yaml:"max_candidates"`
}

// WatcherConfig configures the auto-update watcher.
type WatcherConfig struct {
	Enabled      bool `yaml:"enabled"`
	DebounceSecs int  `yaml:"debounce_secs"`
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watcher   WatcherConfig   `yaml:"watcher"`
}

// Load reads the config from path. A missing file returns defaults;
// present fields override them.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// APIKey resolves the generation API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// TrackingFile is the indexed-files tracking path.
func (c *Config) TrackingFile() string {
	return filepath.Join(c.Storage.StorageDir, "indexed_files.json")
}

// CatalogFile is the bibliographic catalog path.
func (c *Config) CatalogFile() string {
	return filepath.Join(c.Storage.StorageDir, "metadata.json")
}

// SnapshotDir is the authoritative index snapshot directory.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Storage.StorageDir, "snapshot")
}

// ConversationsDB is the conversation log database path.
func (c *Config) ConversationsDB() string {
	return filepath.Join(c.Storage.StorageDir, "conversations.db")
}

func defaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":5001"},
		Storage: StorageConfig{DataDir: "./food_research_data", StorageDir: "./storage"},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "bge-small-zh-v1.5",
		},
		LLM: LLMConfig{
			BaseURL:   "https://api.deepseek.com",
			Model:     "deepseek-chat",
			APIKeyEnv: "DEEPSEEK_API_KEY",
		},
		Extractor: ExtractorConfig{ServiceURL: "http://localhost:8081"},
		Index: IndexConfig{
			ChunkSize:            500,
			ChunkOverlap:         50,
			IncrementalThreshold: 20,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.38,
			MaxCandidates:       50,
		},
		Watcher: WatcherConfig{Enabled: true, DebounceSecs: 5},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Storage.StorageDir == "" {
		cfg.Storage.StorageDir = def.Storage.StorageDir
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = def.Embedding.BaseURL
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = def.LLM.BaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = def.LLM.APIKeyEnv
	}
	if cfg.Extractor.ServiceURL == "" {
		cfg.Extractor.ServiceURL = def.Extractor.ServiceURL
	}
	if cfg.Index.ChunkSize <= 0 {
		cfg.Index.ChunkSize = def.Index.ChunkSize
	}
	if cfg.Index.ChunkOverlap < 0 {
		cfg.Index.ChunkOverlap = def.Index.ChunkOverlap
	}
	if cfg.Index.IncrementalThreshold <= 0 {
		cfg.Index.IncrementalThreshold = def.Index.IncrementalThreshold
	}
	if cfg.Retrieval.SimilarityThreshold <= 0 {
		cfg.Retrieval.SimilarityThreshold = def.Retrieval.SimilarityThreshold
	}
	if cfg.Retrieval.MaxCandidates <= 0 {
		cfg.Retrieval.MaxCandidates = def.Retrieval.MaxCandidates
	}
	if cfg.Watcher.DebounceSecs <= 0 {
		cfg.Watcher.DebounceSecs = def.Watcher.DebounceSecs
	}
}
