package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Amicidal/sigmachad-sub002/internal/sync"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Walk the configured watched roots and ingest every supported file",
	Long: `reindex performs a full one-shot ingestion of every file under the
configured sync.watched_roots that a language parser supports, running
each through the same parse-diff-commit-embed pipeline the
Synchronization Coordinator (C9) uses for live file events, synchronously
rather than through the debounced queue.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	r, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	parsers := languageParsers()
	roots := r.cfg.Sync.WatchedRoots
	if len(roots) == 0 {
		roots = []string{"."}
	}

	var (
		processed int
		failed    int
	)
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			ext := filepath.Ext(path)
			if _, ok := parsers[ext]; !ok {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "reindex: stat %s: %v\n", path, err)
				return nil
			}
			stats, err := r.coordinator.ProcessOne(ctx, sync.FileEvent{
				Path: path,
				Type: sync.ChangeModify,
				Size: info.Size(),
			})
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "reindex: %s: %v\n", path, err)
				return nil
			}
			if len(stats.Errors) > 0 {
				failed++
				for _, e := range stats.Errors {
					fmt.Fprintf(os.Stderr, "reindex: %s: %v\n", path, e)
				}
				return nil
			}
			processed++
			return nil
		})
		if err != nil {
			return storageUnavailable(fmt.Errorf("walk %s: %w", root, err))
		}
	}

	fmt.Printf("graphctl: reindex processed %d files, %d failed\n", processed, failed)
	if failed > 0 {
		return partialFailure("reindex completed with %d failed files", failed)
	}
	return nil
}

func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "dist", "build", "out", "target":
		return true
	}
	return strings.HasPrefix(name, ".")
}
