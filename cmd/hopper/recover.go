package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/internal/storage"
)

var (
	recoverJSON    bool
	recoverHistory bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover <query-id> [checkpoint-id]",
	Short: "Restore a query's reasoning state from a checkpoint",
	Long: `Load a query's reasoning state from storage and print it.

Without a checkpoint ID the newest checkpoint is used. Recovering an older
checkpoint makes it the active state: 'hopper status' shows it and later
updates to the query, including 'hopper run --id', build on it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverJSON, "json", false, "Print the state as JSON")
	recoverCmd.Flags().BoolVar(&recoverHistory, "history", false, "List every checkpoint of the query")
}

func runRecover(cmd *cobra.Command, args []string) error {
	queryID := args[0]
	checkpoint := ""
	if len(args) == 2 {
		checkpoint = args[1]
	}

	return withStoredState(func(ctx context.Context, _ storage.Store, mgr *state.Manager) error {
		st, err := mgr.RecoverState(ctx, queryID, checkpoint)
		if err != nil {
			return fmt.Errorf("recover %s: %w", queryID, err)
		}
		if recoverJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		renderState(os.Stdout, st, checkpoint)
		if !recoverHistory {
			return nil
		}
		history, err := mgr.History(queryID)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s\n", title.Render("Checkpoints"))
		for _, snap := range history {
			fmt.Printf("  %s  %s  %-12s %d/%d\n", snap.CheckpointID, snap.Timestamp.Format(time.RFC3339),
				snap.State.Status, snap.State.CurrentStep, snap.State.TotalSteps)
		}
		return nil
	})
}
