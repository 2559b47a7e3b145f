package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main docqa configuration.
type Config struct {
	// Server holds the HTTP listener settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// LLM holds the answering model settings
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Embedding holds the embedding model settings
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// WebSearch holds the web search fallback settings
	WebSearch WebSearchConfig `json:"web_search" mapstructure:"web_search"`

	// Ingest holds the document ingestion settings
	Ingest IngestConfig `json:"ingest" mapstructure:"ingest"`

	// Memory holds the conversation memory settings
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Logging holds logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	QueryTimeout int    `json:"query_timeout" mapstructure:"query_timeout"` // seconds
	MaxUploadMB  int    `json:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LLMConfig holds the answering model configuration.
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig holds the embedding model configuration. When APIKey is
// empty the index falls back to keyword-only search.
type EmbeddingConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// WebSearchConfig holds the web search fallback configuration.
type WebSearchConfig struct {
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	MaxResults int    `json:"max_results" mapstructure:"max_results"`
}

// IngestConfig holds document ingestion configuration.
type IngestConfig struct {
	DocumentsDir string `json:"documents_dir" mapstructure:"documents_dir"`
	IndexPath    string `json:"index_path" mapstructure:"index_path"`
	ChunkSize    int    `json:"chunk_size" mapstructure:"chunk_size"`
	WatchEnabled bool   `json:"watch_enabled" mapstructure:"watch_enabled"`
	ReindexCron  string `json:"reindex_cron" mapstructure:"reindex_cron"` // empty disables
}

// MemoryConfig holds conversation memory configuration.
type MemoryConfig struct {
	// Window is the number of exchanges kept per session.
	Window int `json:"window" mapstructure:"window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			QueryTimeout: 120,
			MaxUploadMB:  32,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			MaxTokens:   4096,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		WebSearch: WebSearchConfig{
			MaxResults: 5,
		},
		Ingest: IngestConfig{
			ChunkSize:    500,
			WatchEnabled: false,
			ReindexCron:  "",
		},
		Memory: MemoryConfig{
			Window: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// String returns a JSON representation of the config with secrets redacted.
func (c *Config) String() string {
	clone := *c
	if clone.LLM.APIKey != "" {
		clone.LLM.APIKey = "***"
	}
	if clone.Embedding.APIKey != "" {
		clone.Embedding.APIKey = "***"
	}
	if clone.WebSearch.APIKey != "" {
		clone.WebSearch.APIKey = "***"
	}
	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive, got %d", c.Server.QueryTimeout)
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid llm provider %q (must be: anthropic, openai)", c.LLM.Provider)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Memory.Window <= 0 {
		return fmt.Errorf("memory window must be positive, got %d", c.Memory.Window)
	}
	return nil
}
