// Package config loads and validates the engine's layered YAML
// configuration: a file on disk, defaults as the floor, and environment
// variables as the final override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Amicidal/sigmachad-sub002/internal/embedding"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// GraphConfig configures the Cypher Executor (C1).
type GraphConfig struct {
	URI          string `yaml:"uri" json:"uri"`
	Database     string `yaml:"database" json:"database"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	MaxPoolSize  int    `yaml:"max_pool_size" json:"max_pool_size"`
	QueryTimeout string `yaml:"query_timeout" json:"query_timeout"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
}

// VectorIndexConfig configures the Vector Index Service (C2).
type VectorIndexConfig struct {
	IndexName  string `yaml:"index_name" json:"index_name"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Similarity string `yaml:"similarity" json:"similarity"` // "cosine" or "euclidean"
	// FallbackPath is where the brute-force sqlite-vec fallback index lives
	// when the graph store's native vector index is unavailable.
	FallbackPath string `yaml:"fallback_path" json:"fallback_path"`
}

// SyncConfig configures the Synchronization Coordinator (C9).
type SyncConfig struct {
	WatchedRoots      []string `yaml:"watched_roots" json:"watched_roots"`
	DebounceWindow    string   `yaml:"debounce_window" json:"debounce_window"`
	QueueSoftCap      int      `yaml:"queue_soft_cap" json:"queue_soft_cap"`
	MaxConcurrent     int      `yaml:"max_concurrent" json:"max_concurrent"`
	ReconcileInterval string   `yaml:"reconcile_interval" json:"reconcile_interval"`
	CheckpointEvery   int      `yaml:"checkpoint_every" json:"checkpoint_every"`
}

// SearchConfig configures the Search Service (C5).
type SearchConfig struct {
	CacheSize       int     `yaml:"cache_size" json:"cache_size"`
	CacheTTL        string  `yaml:"cache_ttl" json:"cache_ttl"`
	FuzzyThreshold  float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
	StructuralBoost float64 `yaml:"structural_boost" json:"structural_boost"`
	DefaultLimit    int     `yaml:"default_limit" json:"default_limit"`
}

// MonitorConfig configures Monitoring & Alerting (C10).
type MonitorConfig struct {
	AlertBufferSize   int    `yaml:"alert_buffer_size" json:"alert_buffer_size"`
	LogBufferSize     int    `yaml:"log_buffer_size" json:"log_buffer_size"`
	HealthCheckPeriod string `yaml:"health_check_period" json:"health_check_period"`
	RetentionWindow   string `yaml:"retention_window" json:"retention_window"`
}

// Config holds all engine configuration.
type Config struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	Graph       GraphConfig        `yaml:"graph" json:"graph"`
	VectorIndex VectorIndexConfig  `yaml:"vector_index" json:"vector_index"`
	Embedding   embedding.Config   `yaml:"embedding" json:"embedding"`
	Sync        SyncConfig         `yaml:"sync" json:"sync"`
	Search      SearchConfig       `yaml:"search" json:"search"`
	Monitor     MonitorConfig      `yaml:"monitor" json:"monitor"`
	Logging     LoggingConfig      `yaml:"logging" json:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codegraph-engine",
		Version: "1.0.0",

		Graph: GraphConfig{
			URI:          "bolt://localhost:7687",
			Database:     "neo4j",
			MaxPoolSize:  50,
			QueryTimeout: "30s",
			MaxRetries:   3,
		},

		VectorIndex: VectorIndexConfig{
			IndexName:    "entity_embedding_index",
			Dimensions:   768,
			Similarity:   "cosine",
			FallbackPath: "data/vectors.db",
		},

		Embedding: embedding.Config{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},

		Sync: SyncConfig{
			WatchedRoots:      []string{"."},
			DebounceWindow:    "300ms",
			QueueSoftCap:      5000,
			MaxConcurrent:     8,
			ReconcileInterval: "60s",
			CheckpointEvery:   500,
		},

		Search: SearchConfig{
			CacheSize:       1000,
			CacheTTL:        "5m",
			FuzzyThreshold:  0.7,
			StructuralBoost: 1.2,
			DefaultLimit:    25,
		},

		Monitor: MonitorConfig{
			AlertBufferSize:   100,
			LogBufferSize:     1000,
			HealthCheckPeriod: "30s",
			RetentionWindow:   "24h",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "engine.log",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if
// the file doesn't exist, then applies environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: graph.uri=%s embedding.provider=%s", cfg.Graph.URI, cfg.Embedding.Provider)
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment-variable overrides on top of the
// file/default configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		c.Graph.URI = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		c.Graph.Database = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		c.Graph.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Graph.Password = v
	}

	if v := os.Getenv("GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		if c.Embedding.Provider == "" || c.Embedding.Provider == "ollama" {
			c.Embedding.Provider = "genai"
		}
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		if c.Embedding.Provider == "" || c.Embedding.Provider == "ollama" {
			c.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.OllamaModel = v
	}

	if v := os.Getenv("CODEGRAPH_VECTOR_PATH"); v != "" {
		c.VectorIndex.FallbackPath = v
	}
}

// GetGraphQueryTimeout returns the Cypher executor's query timeout.
func (c *Config) GetGraphQueryTimeout() time.Duration {
	return parseDurationOr(c.Graph.QueryTimeout, 30*time.Second)
}

// GetSyncDebounceWindow returns the synchronization coordinator's
// per-path debounce window.
func (c *Config) GetSyncDebounceWindow() time.Duration {
	return parseDurationOr(c.Sync.DebounceWindow, 300*time.Millisecond)
}

// GetSyncReconcileInterval returns the deferred-reference reconciliation
// job's polling interval.
func (c *Config) GetSyncReconcileInterval() time.Duration {
	return parseDurationOr(c.Sync.ReconcileInterval, 60*time.Second)
}

// GetSearchCacheTTL returns the search request-cache entry TTL.
func (c *Config) GetSearchCacheTTL() time.Duration {
	return parseDurationOr(c.Search.CacheTTL, 5*time.Minute)
}

// GetMonitorHealthCheckPeriod returns the monitor's periodic health-check
// interval.
func (c *Config) GetMonitorHealthCheckPeriod() time.Duration {
	return parseDurationOr(c.Monitor.HealthCheckPeriod, 30*time.Second)
}

// GetMonitorRetentionWindow returns how long monitor records are kept
// before cleanup() evicts them.
func (c *Config) GetMonitorRetentionWindow() time.Duration {
	return parseDurationOr(c.Monitor.RetentionWindow, 24*time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required")
	}
	if c.VectorIndex.Dimensions <= 0 {
		return fmt.Errorf("vector_index.dimensions must be positive, got %d", c.VectorIndex.Dimensions)
	}
	switch c.VectorIndex.Similarity {
	case "cosine", "euclidean":
	default:
		return fmt.Errorf("vector_index.similarity must be cosine or euclidean, got %q", c.VectorIndex.Similarity)
	}
	if len(c.Sync.WatchedRoots) == 0 {
		return fmt.Errorf("sync.watched_roots must name at least one path")
	}
	return nil
}
