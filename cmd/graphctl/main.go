// Package main implements graphctl, the operational CLI for the code
// knowledge graph engine. The actual command implementations are split
// across multiple cmd_*.go files for maintainability.
//
// # File Index
//
//   - main.go           - Entry point, rootCmd, global flags, runtime wiring, init()
//   - cmd_init_index.go - initIndexCmd: ensure the vector index and graph constraints exist
//   - cmd_reindex.go     - reindexCmd: walk watched roots and ingest every file synchronously
//   - cmd_compact.go     - compactDuplicatesCmd: merge normalized-duplicate relationships
//   - cmd_prune.go       - pruneCmd: delete temporal records past a retention window
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Amicidal/sigmachad-sub002/internal/config"
	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/embedding"
	"github.com/Amicidal/sigmachad-sub002/internal/entities"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/monitor"
	"github.com/Amicidal/sigmachad-sub002/internal/pubsub"
	"github.com/Amicidal/sigmachad-sub002/internal/relationships"
	"github.com/Amicidal/sigmachad-sub002/internal/search"
	"github.com/Amicidal/sigmachad-sub002/internal/sync"
	"github.com/Amicidal/sigmachad-sub002/internal/temporal"
	"github.com/Amicidal/sigmachad-sub002/internal/vectorindex"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool
)

// cliError carries an exit code alongside its message, per spec.md §6's
// documented exit codes (0 success, 2 invalid arguments, 3 storage
// unavailable, 4 partial failure).
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func exitErr(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func invalidArgs(format string, args ...interface{}) error {
	return exitErr(2, fmt.Errorf(format, args...))
}

func storageUnavailable(err error) error {
	return exitErr(3, err)
}

func partialFailure(format string, args ...interface{}) error {
	return exitErr(4, fmt.Errorf(format, args...))
}

// rootCmd is the graphctl base command.
var rootCmd = &cobra.Command{
	Use:   "graphctl",
	Short: "Operational CLI for the code knowledge graph engine",
	Long: `graphctl is the reference operational surface for the code knowledge
graph engine: initializing the vector index and graph constraints,
running a full one-shot reindex of the watched source roots, compacting
normalized-duplicate relationships, and pruning temporal records past a
retention window.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "graphctl.yaml", "Path to the engine config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	pruneCmd.Flags().IntVar(&pruneRetentionDays, "retentionDays", 30, "Delete closed temporal records older than this many days")

	rootCmd.AddCommand(
		initIndexCmd,
		reindexCmd,
		compactDuplicatesCmd,
		pruneCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ce *cliError
		if errors.As(err, &ce) {
			code = ce.code
		}
		os.Exit(code)
	}
}

// runtime bundles every constructed service an operational command may
// need. Commands take only what they use.
type runtime struct {
	cfg         *config.Config
	events      *pubsub.Broker
	exec        *cypher.Executor
	fallback    *vectorindex.Fallback
	vectorIndex *vectorindex.Service
	entitiesSvc *entities.Service
	relsSvc     *relationships.Service
	embedSvc    *embedding.Service
	searchSvc   *search.Service
	temporalSvc *temporal.Service
	coordinator *sync.Coordinator
	mon         *monitor.Monitor
}

// indexSpec is the vector index wired across init-index and the
// embedding service, derived from config.VectorIndex.
func (r *runtime) indexSpec() vectorindex.IndexSpec {
	return vectorindex.IndexSpec{
		Name:        r.cfg.VectorIndex.IndexName,
		Label:       "Entity",
		PropertyKey: "embedding",
		Dimensions:  r.cfg.VectorIndex.Dimensions,
		Similarity:  vectorindex.Similarity(r.cfg.VectorIndex.Similarity),
	}
}

// buildRuntime loads configuration and constructs every service in
// dependency order, mirroring the teacher's single-binary wiring in
// main.go (one init path, shared by every subcommand via
// PersistentPreRunE-adjacent setup called from each RunE).
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, invalidArgs("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, invalidArgs("invalid config: %v", err)
	}

	events := pubsub.New(256)

	exec, err := cypher.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database, events)
	if err != nil {
		return nil, storageUnavailable(fmt.Errorf("connect to graph store: %w", err))
	}

	var fallback *vectorindex.Fallback
	if cfg.VectorIndex.FallbackPath != "" {
		fallback, err = vectorindex.OpenFallback(cfg.VectorIndex.FallbackPath)
		if err != nil {
			return nil, storageUnavailable(fmt.Errorf("open vector fallback: %w", err))
		}
	}
	vecSvc := vectorindex.New(exec, fallback)

	entitiesSvc := entities.New(exec, 200)
	relsSvc := relationships.New(exec)
	temporalSvc := temporal.New(exec)

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return nil, storageUnavailable(fmt.Errorf("build embedding engine: %w", err))
	}

	r := &runtime{cfg: cfg, events: events, exec: exec, fallback: fallback, vectorIndex: vecSvc,
		entitiesSvc: entitiesSvc, relsSvc: relsSvc, temporalSvc: temporalSvc}
	embedSvc := embedding.New(engine, vecSvc, r.indexSpec())
	r.embedSvc = embedSvc

	r.searchSvc = search.New(entitiesSvc, embedSvc, relsSvc, events, cfg.Search.CacheSize, cfg.GetSearchCacheTTL())

	parsers := languageParsers()
	coord := sync.New(sync.Config{
		MaxConcurrent:    cfg.Sync.MaxConcurrent,
		DebounceWindow:   cfg.GetSyncDebounceWindow(),
		QueueSoftCap:     cfg.Sync.QueueSoftCap,
		CheckpointWindow: checkpointWindow(cfg),
	}, parsers, entitiesSvc, relsSvc, embedSvc, exec, events)
	r.coordinator = coord

	r.mon = monitor.New(events, coord.QueueDepth, nil)

	return r, nil
}

func checkpointWindow(cfg *config.Config) time.Duration {
	if cfg.Sync.CheckpointEvery <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(cfg.Sync.CheckpointEvery) * time.Second
}

func (r *runtime) Close(ctx context.Context) {
	if r.fallback != nil {
		_ = r.fallback.Close()
	}
	if r.exec != nil {
		_ = r.exec.Close(ctx)
	}
}
