package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/graph"
	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/internal/synthesis"
	"github.com/ShayCichocki/hopper/internal/validation"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// Context keys the coordinator writes into the reasoning state.
const (
	ContextQuery         = "query"
	ContextExecutionPlan = "execution_plan"
)

// AggregatedResult is everything one orchestration produced.
type AggregatedResult struct {
	QueryID string
	Query   string
	// SubQueries are ordered by Order and carry their final status.
	SubQueries []*models.SubQuery
	Plan       graph.Plan
	// Results are the completed hop results ordered by sub-query Order.
	Results     []models.HopResult
	Validation  models.ValidationResult
	Consistency models.ValidationResult
	Synthesis   *models.SynthesisResult
	Response    string
	Duration    time.Duration
}

// Failed returns the sub-queries that ended failed.
func (a *AggregatedResult) Failed() []*models.SubQuery {
	var out []*models.SubQuery
	for _, sq := range a.SubQueries {
		if sq.Status == models.SubQueryFailed {
			out = append(out, sq)
		}
	}
	return out
}

// Coordinator drives a query through planning, layered dispatch,
// validation and synthesis.
type Coordinator struct {
	planner  Planner
	registry *Registry
	state    *state.Manager
	opts     coordinatorOptions

	// planMu serializes Decompose and ExecutionPlan, which share the
	// planner's graph.
	planMu sync.Mutex

	auditMu sync.Mutex
	audit   []models.AgentMessage
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(req RequiredConfig, opts ...Option) (*Coordinator, error) {
	if req.Planner == nil {
		return nil, fmt.Errorf("coordinator: planner is required")
	}
	if req.Registry == nil {
		return nil, fmt.Errorf("coordinator: registry is required")
	}
	if req.State == nil {
		return nil, fmt.Errorf("coordinator: state manager is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.validator == nil {
		o.validator = validation.New(validation.WithLogger(o.logger), validation.WithSink(o.sink))
	}
	if o.synthesizer == nil {
		o.synthesizer = synthesis.New(synthesis.WithLogger(o.logger), synthesis.WithSink(o.sink))
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	return &Coordinator{
		planner:  req.Planner,
		registry: req.Registry,
		state:    req.State,
		opts:     o,
	}, nil
}

// Registry returns the worker registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// queryRun is the mutable bookkeeping of one orchestration.
type queryRun struct {
	id    string
	query string
	log   *zap.Logger

	// dag tracks which sub-queries have resolved, completed or failed.
	dag *graph.DependencyGraph

	mu      sync.Mutex
	subs    map[string]*models.SubQuery
	results map[string]models.HopResult
}

func (r *queryRun) setStatus(id string, status models.SubQueryStatus, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sq := r.subs[id]
	sq.Status = status
	if workerID != "" {
		sq.WorkerID = workerID
	}
}

func (r *queryRun) fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sq := r.subs[id]
	sq.Status = models.SubQueryFailed
	sq.Error = err.Error()
	r.dag.MarkComplete(id)
	if dependents := r.dag.GetDependents(id); len(dependents) > 0 {
		r.log.Info("dependents will run without this hop",
			zap.String("sub_query", id), zap.Strings("dependents", dependents))
	}
}

func (r *queryRun) complete(id string, result models.HopResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sq := r.subs[id]
	sq.Status = models.SubQueryCompleted
	res := result.Clone()
	sq.Result = &res
	r.results[id] = result
	r.dag.MarkComplete(id)
}

// failRemaining marks every non-terminal sub-query in layers as failed.
func (r *queryRun) failRemaining(layers graph.Plan, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, layer := range layers {
		for _, id := range layer {
			sq := r.subs[id]
			if sq != nil && !sq.Status.Terminal() {
				sq.Status = models.SubQueryFailed
				sq.Error = err.Error()
				r.dag.MarkComplete(id)
			}
		}
	}
}

// prior returns completed dependency results and the dependencies without one.
func (r *queryRun) prior(sq *models.SubQuery) (map[string]models.HopResult, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deps := r.dag.GetDependencies(sq.ID)
	out := make(map[string]models.HopResult, len(deps))
	var missing []string
	for _, dep := range deps {
		if res, ok := r.results[dep]; ok {
			out[dep] = res.Clone()
		} else {
			missing = append(missing, dep)
		}
	}
	return out, missing
}

// ordered returns copies of the sub-queries by Order, and the completed
// results in the same order.
func (r *queryRun) ordered() ([]*models.SubQuery, []models.HopResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([]*models.SubQuery, 0, len(r.subs))
	for _, sq := range r.subs {
		cp := *sq
		subs = append(subs, &cp)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Order != subs[j].Order {
			return subs[i].Order < subs[j].Order
		}
		return subs[i].ID < subs[j].ID
	})
	var results []models.HopResult
	for _, sq := range subs {
		if res, ok := r.results[sq.ID]; ok && sq.Status == models.SubQueryCompleted {
			results = append(results, res)
		}
	}
	return subs, results
}

// Orchestrate answers query under a fresh query ID.
func (c *Coordinator) Orchestrate(ctx context.Context, query string) (*AggregatedResult, error) {
	return c.OrchestrateWithID(ctx, uuid.NewString(), query)
}

// OrchestrateWithID answers query, tracking its state under queryID.
//
// Planning errors and cancellation are returned; when a plan existed the
// partial AggregatedResult is returned alongside the error. Sub-query
// failures degrade the result instead of failing the call, unless
// WithFailOnNoWorker is set and a dispatch finds no worker.
func (c *Coordinator) OrchestrateWithID(ctx context.Context, queryID, query string) (*AggregatedResult, error) {
	started := time.Now()
	// State writes outlive cancellation so the failed status is recorded.
	sctx := context.WithoutCancel(ctx)
	log := c.opts.logger.With(zap.String("query_id", queryID))

	err := c.state.RecordUpdate(sctx, queryID, state.StateUpdate{
		StartTime: state.Ptr(started),
		Context:   map[string]any{ContextQuery: query},
	})
	if err != nil {
		return nil, fmt.Errorf("record query state: %w", err)
	}

	subs, plan, err := c.plan(ctx, query)
	if err != nil {
		log.Warn("planning failed", zap.Error(err))
		c.finish(sctx, queryID, models.ReasoningFailed, err, 0)
		return nil, fmt.Errorf("plan query: %w", err)
	}
	log.Info("query planned", zap.Int("sub_queries", len(subs)), zap.Int("layers", len(plan)))

	run := &queryRun{
		id:      queryID,
		query:   query,
		log:     log,
		dag:     graph.New(),
		subs:    make(map[string]*models.SubQuery, len(subs)),
		results: make(map[string]models.HopResult),
	}
	nodes := make([]*models.SubQuery, 0, len(subs))
	for _, sq := range subs {
		cp := *sq
		cp.Status = models.SubQueryPending
		run.subs[sq.ID] = &cp
		node := cp
		nodes = append(nodes, &node)
	}
	if err := checkPlan(run.dag, nodes, plan); err != nil {
		log.Warn("planner returned an unusable plan", zap.Error(err))
		c.finish(sctx, queryID, models.ReasoningFailed, err, 0)
		return nil, fmt.Errorf("plan query: %w", err)
	}
	agg := &AggregatedResult{QueryID: queryID, Query: query, Plan: plan}

	if err := c.state.RecordUpdate(sctx, queryID, state.StateUpdate{
		Status:     state.Ptr(models.ReasoningInProgress),
		TotalSteps: state.Ptr(len(subs)),
		Context:    map[string]any{ContextExecutionPlan: planValue(plan)},
	}); err != nil {
		log.Warn("record plan", zap.Error(err))
	}

	for i, layer := range plan {
		if err := c.runLayer(ctx, run, i, layer); err != nil {
			return c.abort(sctx, run, agg, plan[i+1:], err, started)
		}
		if err := ctx.Err(); err != nil {
			return c.abort(sctx, run, agg, plan[i+1:], err, started)
		}
	}

	agg.SubQueries, agg.Results = run.ordered()
	agg.Validation = c.opts.validator.ValidateHopResults(ctx, agg.Results)
	agg.Consistency = c.opts.validator.CheckConsistency(ctx, agg.Results)

	synth, err := c.opts.synthesizer.CombineResults(ctx, agg.Results, synthesis.WithExpectedHops(len(subs)))
	if err != nil {
		return c.abort(sctx, run, agg, nil, err, started)
	}
	agg.Synthesis = synth
	agg.Response = c.opts.synthesizer.GenerateResponse(synth)
	agg.Duration = time.Since(started)

	status := models.ReasoningCompleted
	if len(agg.Results) == 0 && len(subs) > 0 {
		status = models.ReasoningFailed
	}
	if err := c.state.RecordUpdate(sctx, queryID, state.StateUpdate{
		Status: state.Ptr(status),
		Metadata: map[string]any{
			"confidence_score":   synth.Metadata.ConfidenceScore,
			"quality":            synth.QualityScore.Overall,
			"validation_passed":  agg.Validation.IsValid,
			"failed_sub_queries": len(agg.Failed()),
		},
	}); err != nil {
		log.Warn("record final state", zap.Error(err))
	}
	c.opts.metrics.queries.WithLabelValues(string(status)).Inc()
	c.opts.sink.Emit(events.Event{Type: events.QueryComplete, QueryID: queryID, Count: len(agg.Results), Timestamp: time.Now()})
	log.Info("query complete",
		zap.String("status", string(status)),
		zap.Int("completed", len(agg.Results)),
		zap.Int("failed", len(agg.Failed())),
		zap.Duration("duration", agg.Duration))
	return agg, nil
}

// plan decomposes query and computes its (optionally optimized) plan.
func (c *Coordinator) plan(ctx context.Context, query string) ([]*models.SubQuery, graph.Plan, error) {
	c.planMu.Lock()
	defer c.planMu.Unlock()

	subs, err := c.planner.Decompose(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	plan, err := c.planner.ExecutionPlan()
	if err != nil {
		return nil, nil, err
	}
	if c.opts.optimizePlan {
		plan = c.planner.OptimizeExecutionPlan(plan)
	}
	return subs, plan, nil
}

// checkPlan builds dag from subs and verifies that plan lists every
// sub-query exactly once.
func checkPlan(dag *graph.DependencyGraph, subs []*models.SubQuery, plan graph.Plan) error {
	if err := dag.Build(subs); err != nil {
		return err
	}
	seen := make(map[string]bool, plan.Size())
	for _, layer := range plan {
		for _, id := range layer {
			if dag.Get(id) == nil {
				return fmt.Errorf("%w: unknown sub-query %s", ErrInvalidPlan, id)
			}
			if seen[id] {
				return fmt.Errorf("%w: %s scheduled twice", ErrInvalidPlan, id)
			}
			seen[id] = true
		}
	}
	if plan.Size() != dag.Size() {
		return fmt.Errorf("%w: plan covers %d of %d sub-queries", ErrInvalidPlan, plan.Size(), dag.Size())
	}
	return nil
}

// runLayer dispatches every ready member of layer concurrently and waits for
// all of them. A member whose dependencies have not resolved fails without
// being dispatched. It returns an error only when the orchestration must abort.
func (c *Coordinator) runLayer(ctx context.Context, run *queryRun, index int, layer []string) error {
	run.log.Debug("layer started", zap.Int("layer", index), zap.Strings("sub_queries", layer))

	ready := make(map[string]bool, len(layer))
	for _, id := range run.dag.GetReady() {
		ready[id] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.maxParallel)
	for _, id := range layer {
		if !ready[id] {
			run.fail(id, fmt.Errorf("%w: %s in layer %d depends on %v, not yet resolved",
				ErrInvalidPlan, id, index, run.dag.GetDependencies(id)))
			continue
		}
		g.Go(func() error { return c.dispatch(gctx, run, id) })
	}
	err := g.Wait()
	c.opts.metrics.layers.Inc()
	return err
}

// dispatch acquires a worker for one sub-query and executes it.
func (c *Coordinator) dispatch(ctx context.Context, run *queryRun, id string) error {
	run.mu.Lock()
	sq := *run.subs[id]
	run.mu.Unlock()
	log := run.log.With(zap.String("sub_query", id))

	worker, exec, err := c.registry.Acquire(ctx, sq.RequiredCapabilities, c.opts.dispatchTimeout)
	if err != nil {
		run.fail(id, err)
		c.opts.metrics.dispatches.WithLabelValues(acquireOutcome(err)).Inc()
		log.Warn("dispatch failed", zap.Strings("capabilities", sq.RequiredCapabilities), zap.Error(err))
		if c.opts.failOnNoWorker && errors.Is(err, ErrNoSuitableWorker) {
			return fmt.Errorf("dispatch %s: %w", id, err)
		}
		return nil
	}
	run.setStatus(id, models.SubQueryInProgress, worker.ID)

	prior, missing := run.prior(&sq)
	req := ExecutionRequest{
		QueryID:             run.id,
		Query:               run.query,
		SubQuery:            sq,
		Worker:              worker,
		Prior:               prior,
		MissingDependencies: missing,
	}
	if st, err := c.state.State(run.id); err == nil {
		req.Context = st.Context
	}

	ectx, cancel := ctx, context.CancelFunc(func() {})
	if timeout := c.opts.executionTimeout(); timeout > 0 {
		ectx, cancel = context.WithTimeout(ctx, timeout)
	}
	c.opts.metrics.inFlight.Inc()
	started := time.Now()
	result, faulted, err := c.execute(ectx, worker.ID, exec, req)
	overran := err != nil && !faulted && ctx.Err() == nil && errors.Is(ectx.Err(), context.DeadlineExceeded)
	cancel()
	c.opts.metrics.inFlight.Dec()
	c.opts.metrics.dispatchDuration.Observe(time.Since(started).Seconds())

	if err == nil {
		// A result that arrives after cancellation is discarded.
		err = ctx.Err()
	}
	if overran {
		err = fmt.Errorf("%w: worker %s exceeded %s: %w", ErrNoSuitableWorker, worker.ID, c.opts.executionTimeout(), ErrDispatchTimeout)
		run.fail(id, err)
		c.opts.metrics.dispatches.WithLabelValues(outcomeTimeout).Inc()
		log.Warn("execution timed out", zap.String("worker_id", worker.ID), zap.Error(err))
		if c.opts.failOnNoWorker {
			return fmt.Errorf("dispatch %s: %w", id, err)
		}
		return nil
	}
	if err != nil {
		run.fail(id, err)
		if faulted {
			c.opts.metrics.dispatches.WithLabelValues(outcomeFailed).Inc()
			log.Error("worker faulted", zap.String("worker_id", worker.ID), zap.Error(err))
			c.opts.sink.Emit(events.Event{
				Type:       events.AgentError,
				QueryID:    run.id,
				SubQueryID: id,
				WorkerID:   worker.ID,
				Error:      err,
				Timestamp:  time.Now(),
			})
		} else {
			c.opts.metrics.dispatches.WithLabelValues(outcomeCanceled).Inc()
			log.Debug("dispatch abandoned", zap.Error(err))
		}
		return nil
	}

	if result.HopID == "" {
		result.HopID = id
	}
	if result.Metadata.Timestamp.IsZero() {
		result.Metadata.Timestamp = time.Now()
	}
	if result.Metadata.Source == "" {
		result.Metadata.Source = worker.ID
	}
	run.complete(id, result)
	if err := c.state.StorePartialResult(context.WithoutCancel(ctx), run.id, id, result); err != nil {
		log.Warn("store partial result", zap.Error(err))
	}
	c.opts.metrics.dispatches.WithLabelValues(outcomeCompleted).Inc()
	log.Debug("sub-query completed", zap.String("worker_id", worker.ID), zap.Float64("confidence", result.Confidence))
	return nil
}

// execute runs exec in its own goroutine so that cancellation returns
// immediately. The worker is released when the executor returns, even if
// the dispatch was abandoned. faulted reports an executor error or panic
// that was not caused by cancellation.
func (c *Coordinator) execute(ctx context.Context, workerID string, exec Executor, req ExecutionRequest) (models.HopResult, bool, error) {
	type outcome struct {
		result  models.HopResult
		err     error
		faulted bool
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o.err = fmt.Errorf("executor panic: %v", r)
				o.faulted = true
			}
			var releaseErr error
			if o.faulted {
				releaseErr = o.err
			}
			c.registry.Release(workerID, releaseErr)
			done <- o
		}()
		o.result, o.err = exec.Execute(ctx, req)
		o.faulted = o.err != nil && ctx.Err() == nil
	}()

	select {
	case o := <-done:
		return o.result, o.faulted, o.err
	case <-ctx.Done():
		return models.HopResult{}, false, ctx.Err()
	}
}

// abort marks the remaining layers failed, records the failed state, and
// returns the partial result with err.
func (c *Coordinator) abort(ctx context.Context, run *queryRun, agg *AggregatedResult, remaining graph.Plan, err error, started time.Time) (*AggregatedResult, error) {
	run.failRemaining(remaining, err)
	agg.SubQueries, agg.Results = run.ordered()
	agg.Duration = time.Since(started)
	run.log.Warn("orchestration aborted", zap.Error(err), zap.Int("completed", len(agg.Results)))
	c.finish(ctx, run.id, models.ReasoningFailed, err, len(agg.Results))
	return agg, err
}

// finish records a terminal failed state and emits queryComplete.
func (c *Coordinator) finish(ctx context.Context, queryID string, status models.ReasoningStatus, err error, completed int) {
	update := state.StateUpdate{Status: state.Ptr(status)}
	if err != nil {
		update.Metadata = map[string]any{"error": err.Error()}
	}
	if rerr := c.state.RecordUpdate(ctx, queryID, update); rerr != nil {
		c.opts.logger.Warn("record final state", zap.String("query_id", queryID), zap.Error(rerr))
	}
	c.opts.metrics.queries.WithLabelValues(string(status)).Inc()
	c.opts.sink.Emit(events.Event{Type: events.QueryComplete, QueryID: queryID, Count: completed, Error: err, Timestamp: time.Now()})
}

func acquireOutcome(err error) string {
	switch {
	case errors.Is(err, ErrDispatchTimeout):
		return outcomeTimeout
	case errors.Is(err, ErrNoSuitableWorker):
		return outcomeNoWorker
	default:
		return outcomeCanceled
	}
}

// planValue converts a plan into the JSON-shaped value kept in state context.
func planValue(plan graph.Plan) []any {
	out := make([]any, len(plan))
	for i, layer := range plan {
		ids := make([]any, len(layer))
		for j, id := range layer {
			ids[j] = id
		}
		out[i] = ids
	}
	return out
}
