// Package decompose turns a query into dependency-ordered sub-queries.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/graph"
	"github.com/ShayCichocki/hopper/internal/llm"
	"github.com/ShayCichocki/hopper/internal/logging"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// DefaultMaxSubQueries bounds how many sub-queries a single proposal may contain.
const DefaultMaxSubQueries = 20

// proposedSubQuery is the JSON structure returned by the model for a single sub-query.
type proposedSubQuery struct {
	ID           string   `json:"id"`
	Text         *string  `json:"text"`
	DependsOn    []string `json:"depends_on"`
	Capabilities []string `json:"capabilities"`
}

// Decomposer breaks queries down into sub-queries and owns the resulting graph.
type Decomposer struct {
	predictor     llm.Predictor
	logger        *zap.Logger
	maxSubQueries int
	capabilities  []string
	retry         *llm.RetryConfig

	mu      sync.RWMutex
	graph   *graph.DependencyGraph
	quality DecompositionQuality
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Decomposer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxSubQueries bounds the number of sub-queries accepted from one proposal.
func WithMaxSubQueries(n int) Option {
	return func(d *Decomposer) {
		if n > 0 {
			d.maxSubQueries = n
		}
	}
}

// WithCapabilities tells the model which capabilities workers offer.
func WithCapabilities(caps []string) Option {
	return func(d *Decomposer) {
		d.capabilities = models.NormalizeCapabilities(caps)
	}
}

// WithRetry wraps the predictor with exponential backoff using cfg.
// Without this option the predictor is called once per Decompose.
func WithRetry(cfg llm.RetryConfig) Option {
	return func(d *Decomposer) {
		d.retry = &cfg
	}
}

// New creates a new Decomposer using p to propose sub-queries.
func New(p llm.Predictor, opts ...Option) *Decomposer {
	d := &Decomposer{
		predictor:     p,
		logger:        zap.NewNop(),
		maxSubQueries: DefaultMaxSubQueries,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.retry != nil && p != nil {
		d.predictor = llm.NewRetrying(p, *d.retry, d.logger)
	}
	return d
}

// Decompose asks the predictor for a decomposition of query, parses it, and
// builds the dependency graph. On any error the decomposer keeps no graph.
func (d *Decomposer) Decompose(ctx context.Context, query string) ([]*models.SubQuery, error) {
	d.mu.Lock()
	d.graph = nil
	d.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &DecompositionError{Query: query, Reason: "empty query"}
	}
	if d.predictor == nil {
		return nil, &DecompositionError{Query: query, Reason: "no predictor configured"}
	}

	guidance := ""
	if len(d.capabilities) > 0 {
		guidance = fmt.Sprintf(capabilityGuidance, strings.Join(d.capabilities, ", "))
	}
	prompt := fmt.Sprintf(decompositionPrompt, guidance, query)

	response, err := d.predictor.Predict(ctx, prompt)
	if err != nil {
		return nil, &DecompositionError{Query: query, Reason: "predictor unavailable", Err: err}
	}
	d.logger.Debug("decomposition response received", zap.Int("chars", len(response)))

	subQueries, err := ParseResponse(response)
	if err != nil {
		return nil, &DecompositionError{Query: query, Reason: "invalid proposal", Err: err}
	}
	if len(subQueries) > d.maxSubQueries {
		return nil, &DecompositionError{
			Query:  query,
			Reason: fmt.Sprintf("proposal has %d sub-queries, limit is %d", len(subQueries), d.maxSubQueries),
		}
	}

	g := graph.New()
	g.SetDebugLog(logging.Debugf(d.logger))
	if err := g.Build(subQueries); err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}

	plan, err := g.Layers()
	if err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}
	quality := ScoreDecomposition(subQueries, plan, d.capabilities)
	for _, issue := range quality.Issues {
		if issue.Severity >= SeverityWarning {
			d.logger.Warn("decomposition issue",
				zap.String("sub_query_id", issue.SubQueryID),
				zap.Stringer("severity", issue.Severity),
				zap.String("issue", issue.Message))
		}
	}

	d.mu.Lock()
	d.graph = g
	d.quality = quality
	d.mu.Unlock()

	d.logger.Info("query decomposed",
		zap.Int("sub_queries", len(subQueries)),
		zap.Int("layers", quality.Depth),
		zap.Float64("quality", quality.Confidence))
	return subQueries, nil
}

// Graph returns the graph built by the last successful Decompose, or nil.
func (d *Decomposer) Graph() *graph.DependencyGraph {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.graph
}

// Quality returns the score of the last successful Decompose.
func (d *Decomposer) Quality() DecompositionQuality {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.quality
}

// ExecutionPlan computes the execution layers of the current graph.
func (d *Decomposer) ExecutionPlan() (graph.Plan, error) {
	g := d.Graph()
	if g == nil {
		return nil, ErrNoDecomposition
	}
	return g.Layers()
}

// OptimizeExecutionPlan groups sub-queries with identical capability sets
// within each layer. No sub-query changes layer.
func (d *Decomposer) OptimizeExecutionPlan(plan graph.Plan) graph.Plan {
	g := d.Graph()
	if g == nil {
		return plan
	}
	return g.Optimize(plan)
}

// ParseResponse parses the model's JSON response into sub-queries.
// The array is taken from the first "[" to the last "]" so surrounding prose is ignored.
func ParseResponse(response string) ([]*models.SubQuery, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), truncate(response, 500))
	}
	jsonStr := response[jsonStart : jsonEnd+1]

	var proposed []proposedSubQuery
	if err := json.Unmarshal([]byte(jsonStr), &proposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(proposed) == 0 {
		return nil, fmt.Errorf("empty sub-query list returned")
	}

	subQueries := make([]*models.SubQuery, len(proposed))
	byID := make(map[string]string, len(proposed))
	byText := make(map[string]string, len(proposed))

	for i, p := range proposed {
		if p.Text == nil || strings.TrimSpace(*p.Text) == "" {
			return nil, fmt.Errorf("sub-query %d is missing text", i+1)
		}
		id := strings.TrimSpace(p.ID)
		if id == "" {
			id = "sq" + strconv.Itoa(i+1)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate sub-query id %q", id)
		}
		text := strings.TrimSpace(*p.Text)
		byID[id] = id
		if _, seen := byText[text]; !seen {
			byText[text] = id
		}

		subQueries[i] = &models.SubQuery{
			ID:                   id,
			Text:                 text,
			RequiredCapabilities: models.NormalizeCapabilities(p.Capabilities),
			Status:               models.SubQueryPending,
			Order:                i,
		}
	}

	for i, p := range proposed {
		seen := make(map[string]bool, len(p.DependsOn))
		for _, ref := range p.DependsOn {
			ref = strings.TrimSpace(ref)
			depID, ok := byID[ref]
			if !ok {
				depID, ok = byText[ref]
			}
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for sub-query %q", ref, subQueries[i].ID)
			}
			if seen[depID] {
				continue
			}
			seen[depID] = true
			subQueries[i].Dependencies = append(subQueries[i].Dependencies, depID)
		}
	}

	return subQueries, nil
}
