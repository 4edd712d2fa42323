package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/config"
	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/orchestrator"
	"github.com/ShayCichocki/hopper/internal/signals"
)

var (
	runQueryID     string
	runWorkersFile string
	runMaxParallel int
	runTimeout     time.Duration
	runJSON        bool
	runMetricsAddr string
	runKeepState   bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Answer a multi-hop query",
	Long: `Decompose a query into sub-queries, dispatch them to workers layer by
layer, then validate and synthesize the hop results into one answer.

Workers come from the roster in workers_file (see 'hopper config init').
While a query runs, 'hopper cleanup --cancel' in the same directory stops it
and 'hopper send' delivers messages to its workers.

Examples:
  hopper run "Who directed the film that won Best Picture the year Tokyo hosted the Olympics?"
  hopper run --max-parallel 2 --timeout 5m "..."
  hopper run --json "..." > answer.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	runCmd.Flags().StringVar(&runQueryID, "id", "", "Query ID (default: random UUID)")
	runCmd.Flags().StringVar(&runWorkersFile, "workers", "", "Worker roster file (overrides workers_file)")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Concurrent dispatches per layer (overrides coordinator.max_parallel)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall deadline for the query (0 = none)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the aggregated result as JSON")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	runCmd.Flags().BoolVar(&runKeepState, "keep-state", true, "Keep checkpoints after a completed query")
}

func runQuery(cmd *cobra.Command, args []string) (retErr error) {
	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runWorkersFile != "" {
		cfg.WorkersFile = runWorkersFile
	}
	if runMaxParallel > 0 {
		cfg.Coordinator.MaxParallel = runMaxParallel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	roster, err := config.LoadRoster(cfg.WorkersFile)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg.State)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close state store", zap.Error(err))
		}
	}()

	progress := newProgressPrinter(os.Stderr, !runJSON)
	mgr := newStateManager(cfg, store, progress, logger)
	defer func() {
		if err := mgr.Dispose(context.Background()); err != nil && retErr == nil {
			retErr = fmt.Errorf("flush state: %w", err)
		}
	}()

	p, err := buildPipeline(cfg, roster, mgr, progress, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	if runMetricsAddr != "" {
		shutdown := serveMetrics(runMetricsAddr, p.metrics, logger)
		defer shutdown()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	watcher, err := signals.New(cwd, logger.Named("signals"))
	if err != nil {
		return err
	}
	defer watcher.Close()
	watcher.ClearSignals()

	ctx, cancel := watcher.WithCancel(ctx)
	defer cancel()
	relayDone := relayMessages(ctx, watcher, p.coordinator, logger)

	queryID := runQueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	progress.start(queryID, query)

	agg, err := p.coordinator.OrchestrateWithID(ctx, queryID, query)
	cancel()
	<-relayDone

	if watcher.Cancelled() {
		fmt.Fprintln(os.Stderr, color.YellowString("Cancelled by signal file."))
	}
	if agg == nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(agg); encErr != nil {
			return encErr
		}
	} else {
		renderResult(os.Stdout, agg)
		in, out, cost := p.tokenUsage()
		fmt.Printf("\n%s\n", dim.Render(fmt.Sprintf("Tokens: %d in / %d out (~$%.4f)   Duration: %s",
			in, out, cost, agg.Duration.Round(time.Millisecond))))
	}

	if err == nil && !runKeepState && len(agg.Results) > 0 {
		if cerr := mgr.Cleanup(context.Background(), queryID); cerr != nil {
			logger.Warn("cleanup state", zap.Error(cerr))
		}
	}
	return err
}

// relayMessages forwards message files to the coordinator until ctx ends.
// The returned channel is closed once the relay has stopped.
func relayMessages(ctx context.Context, w *signals.Watcher, coord *orchestrator.Coordinator, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-w.Messages():
				if err := coord.ManageAgentInteractions(ctx, msg); err != nil {
					logger.Warn("message rejected", zap.Error(err))
				}
			}
		}
	}()
	return done
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
		<-done
	}
}

// progressPrinter reports hop progress on a terminal as state events arrive.
type progressPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
}

func newProgressPrinter(out io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{out: out, enabled: enabled}
}

func (p *progressPrinter) start(queryID, query string) {
	if !p.enabled {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", title.Render("Query"), query)
	fmt.Fprintf(p.out, "%s\n\n", dim.Render(queryID))
}

// Emit implements events.Sink.
func (p *progressPrinter) Emit(e events.Event) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Type {
	case events.PartialResultsStored:
		fmt.Fprintf(p.out, "  %s hop %s\n", color.GreenString("✓"), e.SubQueryID)
	case events.AgentError:
		target := e.SubQueryID
		if target == "" {
			target = e.WorkerID
		}
		fmt.Fprintf(p.out, "  %s %s: %v\n", color.RedString("✗"), target, e.Error)
	case events.ConflictsIdentified:
		if e.Count > 0 {
			fmt.Fprintf(p.out, "  %s %d conflict(s) between hops\n", color.YellowString("⚠"), e.Count)
		}
	}
}
