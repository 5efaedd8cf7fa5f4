package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var compactDuplicatesCmd = &cobra.Command{
	Use:   "compact-duplicates",
	Short: "Merge relationships that normalize to the same canonical id",
	Long: `compact-duplicates finds relationships whose canonical id
(H(fromId, type, targetKey)) collapses multiple stored rows onto the same
identity — typically left behind by a resolution-source upgrade that
replaced a placeholder edge without the old row being pruned — and merges
their evidence/locations into one, per invariant I5.`,
	Args: cobra.NoArgs,
	RunE: runCompactDuplicates,
}

func runCompactDuplicates(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	r, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	merged, err := r.relsSvc.MergeNormalizedDuplicates(ctx)
	if err != nil {
		return storageUnavailable(fmt.Errorf("compact duplicates: %w", err))
	}

	fmt.Printf("graphctl: merged %d duplicate relationship group(s)\n", merged)
	return nil
}
