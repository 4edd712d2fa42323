// Package worker provides hop executors backed by a language model.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/llm"
	"github.com/ShayCichocki/hopper/internal/orchestrator"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// ErrMalformedResponse indicates the model reply was not a hop result object.
var ErrMalformedResponse = errors.New("malformed hop response")

// DefaultConfidence is used when the model omits a confidence.
const DefaultConfidence = 0.5

// maxNotes bounds the inbox of messages from other workers.
const maxNotes = 20

// LLMExecutor answers sub-queries with a Predictor. It implements
// orchestrator.Executor and orchestrator.MessageReceiver; received messages
// are included as notes in later prompts.
type LLMExecutor struct {
	predictor llm.Predictor
	logger    *zap.Logger

	mu    sync.Mutex
	notes []models.AgentMessage
}

var (
	_ orchestrator.Executor        = (*LLMExecutor)(nil)
	_ orchestrator.MessageReceiver = (*LLMExecutor)(nil)
)

// NewLLMExecutor creates an executor. A nil logger disables logging.
func NewLLMExecutor(p llm.Predictor, logger *zap.Logger) *LLMExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExecutor{predictor: p, logger: logger}
}

// Execute prompts the model for req.SubQuery and parses its reply.
func (e *LLMExecutor) Execute(ctx context.Context, req orchestrator.ExecutionRequest) (models.HopResult, error) {
	if e.predictor == nil {
		return models.HopResult{}, fmt.Errorf("execute %s: no predictor configured", req.SubQuery.ID)
	}

	prompt := e.buildPrompt(req)
	e.logger.Debug("executing hop",
		zap.String("sub_query", req.SubQuery.ID),
		zap.String("worker_id", req.Worker.ID),
		zap.Int("prompt_bytes", len(prompt)))

	reply, err := e.predictor.Predict(ctx, prompt)
	if err != nil {
		return models.HopResult{}, fmt.Errorf("execute %s: %w", req.SubQuery.ID, err)
	}
	result, err := ParseResult(reply)
	if err != nil {
		return models.HopResult{}, fmt.Errorf("execute %s: %w", req.SubQuery.ID, err)
	}
	result.HopID = req.SubQuery.ID
	result.Metadata.Source = req.Worker.ID
	result.Metadata.Timestamp = time.Now()
	return result, nil
}

// Receive stores msg as a note for subsequent prompts.
func (e *LLMExecutor) Receive(ctx context.Context, msg models.AgentMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notes = append(e.notes, msg)
	if over := len(e.notes) - maxNotes; over > 0 {
		e.notes = append([]models.AgentMessage(nil), e.notes[over:]...)
	}
	return nil
}

func (e *LLMExecutor) buildPrompt(req orchestrator.ExecutionRequest) string {
	var caps string
	if len(req.Worker.Capabilities) > 0 {
		caps = fmt.Sprintf(capabilityLine, strings.Join(req.Worker.Capabilities, ", "))
	}

	var prior strings.Builder
	if len(req.Prior) > 0 {
		prior.WriteString(priorHeader)
		ids := make([]string, 0, len(req.Prior))
		for id := range req.Prior {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r := req.Prior[id]
			claims, _ := json.Marshal(r.Content)
			fmt.Fprintf(&prior, "- [%s] %s claims=%s\n", id, r.Summary, claims)
		}
	}
	for _, id := range req.MissingDependencies {
		fmt.Fprintf(&prior, "- [%s] unavailable (that step failed)\n", id)
	}

	var notes strings.Builder
	e.mu.Lock()
	if len(e.notes) > 0 {
		notes.WriteString(notesHeader)
		for _, n := range e.notes {
			payload, _ := json.Marshal(n.Payload)
			fmt.Fprintf(&notes, "- from %s (%s): %s\n", n.From, n.Type, payload)
		}
	}
	e.mu.Unlock()

	return fmt.Sprintf(hopPrompt, req.Query, req.SubQuery.Text, caps, prior.String(), notes.String())
}

type hopReply struct {
	Claims     map[string]any    `json:"claims"`
	Summary    string            `json:"summary"`
	Confidence *float64          `json:"confidence"`
	Citations  []models.Citation `json:"citations"`
}

// ParseResult extracts a hop result from a model reply. The reply may wrap
// the JSON object in prose or a code fence.
func ParseResult(reply string) (models.HopResult, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return models.HopResult{}, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}

	var r hopReply
	if err := json.Unmarshal([]byte(reply[start:end+1]), &r); err != nil {
		return models.HopResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(r.Claims) == 0 && strings.TrimSpace(r.Summary) == "" {
		return models.HopResult{}, fmt.Errorf("%w: neither claims nor summary", ErrMalformedResponse)
	}

	confidence := DefaultConfidence
	if r.Confidence != nil {
		confidence = clamp01(*r.Confidence)
	}
	citations := make([]models.Citation, 0, len(r.Citations))
	for _, c := range r.Citations {
		if strings.TrimSpace(c.Source) == "" {
			continue
		}
		c.Confidence = clamp01(c.Confidence)
		citations = append(citations, c)
	}
	if len(citations) == 0 {
		citations = nil
	}

	return models.HopResult{
		Content:    r.Claims,
		Summary:    strings.TrimSpace(r.Summary),
		Confidence: confidence,
		Metadata:   models.HopMetadata{Citations: citations},
	}, nil
}

func clamp01(f float64) float64 {
	switch {
	case f != f || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
