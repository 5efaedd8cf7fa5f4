package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pruneRetentionDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete closed temporal records older than a retention window",
	Long: `prune deletes closed (inactive) relationships whose validTo has
elapsed --retentionDays, and checkpoints whose window closed before the
same cutoff, then records the outcome so getHistoryMetrics can report
it back as the last-prune snapshot.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	if pruneRetentionDays <= 0 {
		return invalidArgs("--retentionDays must be a positive integer, got %d", pruneRetentionDays)
	}

	ctx := context.Background()
	r, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	snap, err := r.temporalSvc.Prune(ctx, pruneRetentionDays)
	if err != nil {
		return storageUnavailable(fmt.Errorf("prune: %w", err))
	}

	fmt.Printf("graphctl: pruned %d relationships and %d checkpoints older than %d days\n",
		snap.RelationshipsDeleted, snap.CheckpointsDeleted, pruneRetentionDays)
	return nil
}
