package orchestrator

import (
	"context"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// ExecutionRequest is everything a worker needs to run one hop.
type ExecutionRequest struct {
	// QueryID is the top-level query the hop belongs to.
	QueryID string
	// Query is the original user query.
	Query string
	// SubQuery is a copy of the sub-query being executed.
	SubQuery models.SubQuery
	// Worker is the worker the hop was dispatched to.
	Worker models.Worker
	// Prior holds the results of completed dependencies, keyed by sub-query ID.
	Prior map[string]models.HopResult
	// MissingDependencies lists dependencies that failed and have no result.
	MissingDependencies []string
	// Context is a copy of the query's shared reasoning context.
	Context map[string]any
}

// Executor runs a sub-query on behalf of a worker.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (models.HopResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req ExecutionRequest) (models.HopResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecutionRequest) (models.HopResult, error) {
	return f(ctx, req)
}

// MessageReceiver is implemented by executors that accept inter-worker messages.
type MessageReceiver interface {
	Receive(ctx context.Context, msg models.AgentMessage) error
}
