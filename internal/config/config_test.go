package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.QueryTimeout)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 10, cfg.Memory.Window)
	assert.Equal(t, 5, cfg.WebSearch.MaxResults)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.Provider = "gemini"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad chunk size", func(t *testing.T) {
		cfg := validConfig()
		cfg.Ingest.ChunkSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad memory window", func(t *testing.T) {
		cfg := validConfig()
		cfg.Memory.Window = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.APIKey = "sk-embed"
	cfg.WebSearch.APIKey = "tvly-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-test")
	assert.NotContains(t, s, "sk-embed")
	assert.NotContains(t, s, "tvly-secret")
	assert.Contains(t, s, "***")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Ingest.IndexPath)
	assert.NotEmpty(t, cfg.Ingest.DocumentsDir)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docqa.json")
	content := `{
		"server": {"port": 9001},
		"llm": {"provider": "anthropic", "api_key": "sk-file", "model": "claude-sonnet-4"},
		"data_dir": "` + dir + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-file", cfg.LLM.APIKey)
	// Untouched fields keep their defaults.
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	// Derived paths land under the configured data dir.
	assert.Equal(t, filepath.Join(dir, "documents"), cfg.Ingest.DocumentsDir)
	assert.Equal(t, filepath.Join(dir, "vectorstore", "index.db"), cfg.Ingest.IndexPath)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DOCQA_LLM_API_KEY", "sk-env")
	t.Setenv("DOCQA_SERVER_PORT", "9100")

	cfg, err := NewLoader(filepath.Join(t.TempDir(), "nope.json")).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 9100, cfg.Server.Port)
}
