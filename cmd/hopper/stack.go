package main

import (
	"fmt"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/config"
	"github.com/ShayCichocki/hopper/internal/decompose"
	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/llm"
	"github.com/ShayCichocki/hopper/internal/logging"
	"github.com/ShayCichocki/hopper/internal/orchestrator"
	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/internal/storage"
	"github.com/ShayCichocki/hopper/internal/synthesis"
	"github.com/ShayCichocki/hopper/internal/validation"
	"github.com/ShayCichocki/hopper/internal/worker"
)

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		Verbose: verbose,
	})
}

func nopClose() error { return nil }

// openStore returns the configured checkpoint store and its closer. The
// memory backend returns a nil Store.
func openStore(cfg config.StateConfig) (storage.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return nil, nopClose, nil
	case config.BackendFile:
		root := cfg.Path
		if root == "" {
			root = filepath.Join(filepath.Dir(storage.DefaultSQLitePath()), "state")
		}
		fs, err := storage.NewFileStore(root)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return fs, nopClose, nil
	default:
		path := cfg.Path
		if path == "" {
			path = storage.DefaultSQLitePath()
		}
		db, err := storage.OpenSQLite(path, storage.WithDriver(cfg.SQLiteDriver))
		if err != nil {
			return nil, nil, fmt.Errorf("open state database: %w", err)
		}
		return db, db.Close, nil
	}
}

func newStateManager(cfg *config.Config, store storage.Store, sink events.Sink, logger *zap.Logger) *state.Manager {
	return state.NewManager(
		state.WithStore(store),
		state.WithSink(sink),
		state.WithLogger(logger.Named("state")),
		state.WithFlushInterval(cfg.State.FlushInterval),
	)
}

// newPredictor creates an Anthropic client. Empty model and system prompt
// fall back to the configured model and no system prompt.
func newPredictor(cfg *config.Config, model, system string) (*llm.Client, error) {
	key, _, err := config.ResolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = cfg.Anthropic.Model
	}
	return llm.NewClient(llm.ClientConfig{
		Model:         anthropic.Model(model),
		APIKey:        key,
		SystemPrompt:  system,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
}

func retryConfig(cfg *config.Config) llm.RetryConfig {
	return llm.RetryConfig{MaxAttempts: cfg.Anthropic.MaxAttempts}
}

// buildRegistry registers one LLM-backed executor per roster entry. Workers
// without overrides share base.
func buildRegistry(cfg *config.Config, roster *config.Roster, base llm.Predictor, logger *zap.Logger) (*orchestrator.Registry, []*llm.Client, error) {
	reg := orchestrator.NewRegistry()
	var clients []*llm.Client
	for _, spec := range roster.Workers {
		p := base
		if spec.Model != "" || spec.SystemPrompt != "" {
			c, err := newPredictor(cfg, spec.Model, spec.SystemPrompt)
			if err != nil {
				return nil, nil, fmt.Errorf("worker %s: %w", spec.ID, err)
			}
			clients = append(clients, c)
			p = llm.NewRetrying(c, retryConfig(cfg), logger)
		}
		exec := worker.NewLLMExecutor(p, logger.Named("worker").With(zap.String("worker_id", spec.ID)))
		if err := reg.Register(spec.Worker(), exec); err != nil {
			return nil, nil, err
		}
	}
	return reg, clients, nil
}

// pipeline is everything a run needs, wired from configuration.
type pipeline struct {
	coordinator *orchestrator.Coordinator
	metrics     *prometheus.Registry
	clients     []*llm.Client
}

func buildPipeline(cfg *config.Config, roster *config.Roster, mgr *state.Manager, sink events.Sink, logger *zap.Logger) (*pipeline, error) {
	planner, err := newPredictor(cfg, "", "")
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	dec := decompose.New(planner,
		decompose.WithLogger(logger.Named("decompose")),
		decompose.WithMaxSubQueries(cfg.Coordinator.MaxSubQueries),
		decompose.WithCapabilities(roster.Capabilities()),
		decompose.WithRetry(retryConfig(cfg)),
	)

	shared := llm.NewRetrying(planner, retryConfig(cfg), logger.Named("llm"))
	reg, clients, err := buildRegistry(cfg, roster, shared, logger)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	coord, err := orchestrator.NewCoordinator(
		orchestrator.RequiredConfig{Planner: dec, Registry: reg, State: mgr},
		orchestrator.WithMaxParallel(cfg.Coordinator.MaxParallel),
		orchestrator.WithDispatchTimeout(cfg.Coordinator.DispatchTimeout),
		orchestrator.WithExecutionTimeout(cfg.Coordinator.ExecutionTimeout),
		orchestrator.WithFailOnNoWorker(cfg.Coordinator.FailOnNoWorker),
		orchestrator.WithLogger(logger.Named("coordinator")),
		orchestrator.WithSink(sink),
		orchestrator.WithMetrics(orchestrator.NewMetrics(promReg)),
		orchestrator.WithValidator(validation.New(
			validation.WithLogger(logger.Named("validation")),
			validation.WithSink(sink),
			validation.WithMinConfidence(cfg.Validation.MinConfidence),
			validation.WithCrossHopPenalty(cfg.Validation.CrossHopPenalty),
		)),
		orchestrator.WithSynthesizer(synthesis.New(
			synthesis.WithLogger(logger.Named("synthesis")),
			synthesis.WithSink(sink),
			synthesis.WithConflictMargin(cfg.Synthesis.ConflictMargin),
		)),
	)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		coordinator: coord,
		metrics:     promReg,
		clients:     append([]*llm.Client{planner}, clients...),
	}, nil
}

// tokenUsage sums usage across every client the pipeline created.
func (p *pipeline) tokenUsage() (input, output int64, cost float64) {
	for _, c := range p.clients {
		in, out := c.Tracker().Total()
		input += in
		output += out
		cost += c.Tracker().Cost()
	}
	return input, output, cost
}
