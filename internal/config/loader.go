package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading.
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path falls back to
// ~/.docqa/docqa.json.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the configuration from file and environment. Environment
// variables use the DOCQA_ prefix with underscores, e.g. DOCQA_LLM_API_KEY
// overrides llm.api_key. A missing config file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".docqa", "docqa.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".docqa")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "docqa.log")
	}
	if cfg.Ingest.DocumentsDir == "" {
		cfg.Ingest.DocumentsDir = filepath.Join(cfg.DataDir, "documents")
	}
	if cfg.Ingest.IndexPath == "" {
		cfg.Ingest.IndexPath = filepath.Join(cfg.DataDir, "vectorstore", "index.db")
	}

	return cfg, nil
}

// bindEnvKeys registers the keys AutomaticEnv should resolve. Viper only
// consults the environment for keys it has seen, so each nested key is bound
// explicitly.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.query_timeout", "server.max_upload_mb",
		"llm.provider", "llm.api_key", "llm.model", "llm.temperature", "llm.max_tokens",
		"embedding.api_key", "embedding.model",
		"web_search.api_key", "web_search.max_results",
		"ingest.documents_dir", "ingest.index_path", "ingest.chunk_size",
		"ingest.watch_enabled", "ingest.reindex_cron",
		"memory.window",
		"logging.level", "logging.file", "logging.pretty",
		"data_dir",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}
