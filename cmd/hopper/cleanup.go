package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ShayCichocki/hopper/internal/signals"
	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/internal/storage"
)

var (
	cleanupFinished  bool
	cleanupOlderThan time.Duration
	cleanupCancel    bool
	cleanupDryRun    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [query-id...]",
	Short: "Remove stored query state or cancel a running query",
	Long: `Remove checkpointed reasoning state.

This command:
  - Removes the state of each query ID given
  - With --finished, removes every completed or failed query
  - With --older-than, purges checkpoints not updated within the duration
    (sqlite backend only)

With --cancel it instead signals the query running in the current directory
to stop; its completed hops are still synthesized.

Examples:
  hopper cleanup 3f2c...            # Remove one query
  hopper cleanup --finished         # Keep only interrupted queries
  hopper cleanup --older-than 720h  # Purge checkpoints older than 30 days
  hopper cleanup --cancel           # Stop the running query`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupFinished, "finished", false, "Remove every completed or failed query")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Purge checkpoints older than this (sqlite only)")
	cleanupCmd.Flags().BoolVar(&cleanupCancel, "cancel", false, "Cancel the query running in this directory")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupCancel {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		if err := signals.SendCancel(cwd); err != nil {
			return fmt.Errorf("send cancel: %w", err)
		}
		fmt.Printf("%s Cancel requested\n", color.GreenString("✓"))
		return nil
	}

	if len(args) == 0 && !cleanupFinished && cleanupOlderThan == 0 {
		return errors.New("nothing to clean: pass query IDs, --finished or --older-than")
	}

	return withStoredState(func(ctx context.Context, store storage.Store, mgr *state.Manager) error {
		targets, err := cleanupTargets(ctx, mgr, args)
		if err != nil {
			return err
		}

		var errs error
		for _, id := range targets {
			if cleanupDryRun {
				fmt.Printf("  would remove %s\n", id)
				continue
			}
			if err := mgr.Cleanup(ctx, id); err != nil {
				errs = multierr.Append(errs, err)
				fmt.Printf("  %s %s: %v\n", color.RedString("✗"), id, err)
				continue
			}
			fmt.Printf("  %s removed %s\n", color.GreenString("✓"), id)
		}

		if cleanupOlderThan > 0 {
			db, ok := store.(*storage.SQLiteStore)
			if !ok {
				return multierr.Append(errs, errors.New("--older-than requires the sqlite backend"))
			}
			if cleanupDryRun {
				fmt.Printf("  would purge checkpoints older than %s\n", cleanupOlderThan)
				return errs
			}
			n, err := db.PurgeOlderThan(ctx, cleanupOlderThan)
			if err != nil {
				return multierr.Append(errs, err)
			}
			fmt.Printf("  %s purged %d checkpoint record(s)\n", color.GreenString("✓"), n)
		}
		return errs
	})
}

// cleanupTargets returns the explicit IDs plus, with --finished, every
// stored query in a terminal status.
func cleanupTargets(ctx context.Context, mgr *state.Manager, ids []string) ([]string, error) {
	targets := append([]string(nil), ids...)
	if !cleanupFinished {
		return targets, nil
	}
	stored, err := mgr.StoredQueries(ctx)
	if err != nil {
		return nil, err
	}
	for _, q := range stored {
		if !q.Interrupted() {
			targets = append(targets, q.QueryID)
		}
	}
	return targets, nil
}
