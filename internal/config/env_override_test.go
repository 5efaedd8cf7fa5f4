package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Graph(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://override:7687")
	t.Setenv("NEO4J_DATABASE", "override-db")
	t.Setenv("NEO4J_USERNAME", "neo")
	t.Setenv("NEO4J_PASSWORD", "secret")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "bolt://override:7687", cfg.Graph.URI)
	assert.Equal(t, "override-db", cfg.Graph.Database)
	assert.Equal(t, "neo", cfg.Graph.Username)
	assert.Equal(t, "secret", cfg.Graph.Password)
}

func TestEnvOverrides_Embedding(t *testing.T) {
	t.Run("GENAI_API_KEY switches provider from ollama", func(t *testing.T) {
		t.Setenv("GENAI_API_KEY", "gen-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "gen-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("GENAI_API_KEY does not override an explicit non-ollama provider", func(t *testing.T) {
		t.Setenv("GENAI_API_KEY", "gen-key")

		cfg := DefaultConfig()
		cfg.Embedding.Provider = "openai"
		cfg.applyEnvOverrides()

		assert.Equal(t, "gen-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "openai", cfg.Embedding.Provider)
	})

	t.Run("GEMINI_API_KEY is a fallback for GENAI_API_KEY", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("Ollama overrides", func(t *testing.T) {
		t.Setenv("OLLAMA_ENDPOINT", "http://custom:11434")
		t.Setenv("OLLAMA_EMBEDDING_MODEL", "custom-model")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "http://custom:11434", cfg.Embedding.OllamaEndpoint)
		assert.Equal(t, "custom-model", cfg.Embedding.OllamaModel)
	})
}

func TestEnvOverrides_VectorFallbackPath(t *testing.T) {
	t.Setenv("CODEGRAPH_VECTOR_PATH", "/tmp/vectors.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/vectors.db", cfg.VectorIndex.FallbackPath)
}
