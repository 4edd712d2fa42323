package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/config"
	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/internal/storage"
)

var (
	statusInterrupted bool
	statusJSON        bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List checkpointed queries",
	Long: `List queries with persisted reasoning state.

Queries that never reached completed or failed were interrupted and can be
inspected with 'hopper recover <query-id>'.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusInterrupted, "interrupted", false, "Only show interrupted queries")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print as JSON")
}

// withStoredState opens the configured store and hands fn a manager over it.
func withStoredState(fn func(ctx context.Context, store storage.Store, mgr *state.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.State.Backend == config.BackendMemory {
		fmt.Println("State backend is memory; nothing is persisted between runs.")
		return nil
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openStore(cfg.State)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close state store", zap.Error(err))
		}
	}()

	ctx := context.Background()
	mgr := newStateManager(cfg, store, events.Nop, logger)
	defer mgr.Dispose(ctx) //nolint:errcheck
	return fn(ctx, store, mgr)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withStoredState(func(ctx context.Context, _ storage.Store, mgr *state.Manager) error {
		list := mgr.StoredQueries
		if statusInterrupted {
			list = mgr.Interrupted
		}
		queries, err := list(ctx)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(queries)
		}
		if len(queries) == 0 {
			fmt.Println("No stored queries. Run 'hopper run <query>' to start.")
			return nil
		}
		renderStoredQueries(os.Stdout, queries)
		return nil
	})
}
