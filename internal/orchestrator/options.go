package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/graph"
	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/internal/synthesis"
	"github.com/ShayCichocki/hopper/internal/validation"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// Defaults for coordinator options.
const (
	DefaultMaxParallel     = 4
	DefaultDispatchTimeout = 30 * time.Second
)

// Planner decomposes a query and computes its execution plan.
// *decompose.Decomposer implements it.
type Planner interface {
	Decompose(ctx context.Context, query string) ([]*models.SubQuery, error)
	ExecutionPlan() (graph.Plan, error)
	OptimizeExecutionPlan(plan graph.Plan) graph.Plan
}

// RequiredConfig contains the collaborators a Coordinator cannot run without.
type RequiredConfig struct {
	// Planner decomposes queries.
	Planner Planner
	// Registry holds the workers sub-queries are dispatched to.
	Registry *Registry
	// State tracks per-query reasoning state. The caller owns its lifecycle.
	State *state.Manager
}

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	maxParallel     int
	dispatchTimeout time.Duration
	execTimeout     time.Duration
	failOnNoWorker  bool
	optimizePlan    bool
	logger          *zap.Logger
	sink            events.Sink
	validator       *validation.CrossValidator
	synthesizer     *synthesis.Synthesizer
	metrics         *Metrics
}

func defaultOptions() coordinatorOptions {
	return coordinatorOptions{
		maxParallel:     DefaultMaxParallel,
		dispatchTimeout: DefaultDispatchTimeout,
		optimizePlan:    true,
		logger:          zap.NewNop(),
		sink:            events.Nop,
	}
}

// WithMaxParallel bounds concurrent dispatches within one layer.
func WithMaxParallel(n int) Option {
	return func(o *coordinatorOptions) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithDispatchTimeout sets how long a dispatch waits for a busy worker.
// Zero waits until the orchestration context ends.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *coordinatorOptions) {
		if d >= 0 {
			o.dispatchTimeout = d
		}
	}
}

// WithExecutionTimeout bounds one executor call. Zero uses the dispatch
// timeout. An executor that overruns is abandoned and its sub-query fails
// with ErrDispatchTimeout; the worker is released when the executor returns.
func WithExecutionTimeout(d time.Duration) Option {
	return func(o *coordinatorOptions) {
		if d >= 0 {
			o.execTimeout = d
		}
	}
}

func (o coordinatorOptions) executionTimeout() time.Duration {
	if o.execTimeout > 0 {
		return o.execTimeout
	}
	return o.dispatchTimeout
}

// WithFailOnNoWorker makes ErrNoSuitableWorker abort the whole orchestration
// instead of failing only the affected sub-query.
func WithFailOnNoWorker(b bool) Option {
	return func(o *coordinatorOptions) { o.failOnNoWorker = b }
}

// WithPlanOptimization toggles capability grouping within layers.
func WithPlanOptimization(b bool) Option {
	return func(o *coordinatorOptions) { o.optimizePlan = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *coordinatorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(o *coordinatorOptions) { o.sink = events.OrNop(s) }
}

// WithValidator sets the cross validator.
func WithValidator(v *validation.CrossValidator) Option {
	return func(o *coordinatorOptions) { o.validator = v }
}

// WithSynthesizer sets the synthesizer.
func WithSynthesizer(s *synthesis.Synthesizer) Option {
	return func(o *coordinatorOptions) { o.synthesizer = s }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *coordinatorOptions) { o.metrics = m }
}
