package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
)

var initIndexCmd = &cobra.Command{
	Use:   "init-index",
	Short: "Create the graph constraints and the entity embedding vector index",
	Long: `init-index idempotently ensures the graph store is ready for ingestion:
unique constraints on Entity.id, Version.id, and Checkpoint.id (per
spec.md §6), plus the named vector index the Embedding Service (C7)
searches against.`,
	Args: cobra.NoArgs,
	RunE: runInitIndex,
}

var schemaConstraints = []string{
	"CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
	"CREATE CONSTRAINT version_id_unique IF NOT EXISTS FOR (v:Version) REQUIRE v.id IS UNIQUE",
	"CREATE CONSTRAINT checkpoint_id_unique IF NOT EXISTS FOR (c:Checkpoint) REQUIRE c.id IS UNIQUE",
	"CREATE INDEX entity_type_idx IF NOT EXISTS FOR (e:Entity) ON (e.type)",
	"CREATE INDEX entity_path_idx IF NOT EXISTS FOR (e:Entity) ON (e.path)",
}

func runInitIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	r, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	for _, stmt := range schemaConstraints {
		if _, err := r.exec.Execute(ctx, stmt, nil, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true}); err != nil {
			return storageUnavailable(fmt.Errorf("apply schema statement %q: %w", stmt, err))
		}
	}

	if err := r.embedSvc.InitializeIndex(ctx); err != nil {
		return storageUnavailable(fmt.Errorf("initialize vector index: %w", err))
	}

	fmt.Printf("graphctl: constraints applied and vector index %q ensured\n", r.cfg.VectorIndex.IndexName)
	return nil
}
