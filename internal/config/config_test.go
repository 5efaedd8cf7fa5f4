package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Graph.URI, cfg.Graph.URI)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "graph:\n  uri: bolt://graph.internal:7687\n  database: codegraph\nvector_index:\n  dimensions: 1536\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt://graph.internal:7687", cfg.Graph.URI)
	assert.Equal(t, "codegraph", cfg.Graph.Database)
	assert.Equal(t, 1536, cfg.VectorIndex.Dimensions)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Sync.MaxConcurrent, cfg.Sync.MaxConcurrent)
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Graph.Database = "custom-db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-db", loaded.Graph.Database)
}

func TestValidateRejectsBadDimensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VectorIndex.Dimensions = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSimilarity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VectorIndex.Similarity = "manhattan"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNoWatchedRoots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.WatchedRoots = nil
	assert.Error(t, cfg.Validate())
}
