// Package events defines the notifications emitted by the orchestration
// pipeline and the sinks that receive them.
package events

import (
	"time"
)

// Type represents the type of pipeline event.
type Type string

const (
	// StateUpdated indicates a reasoning state was created or merged.
	StateUpdated Type = "stateUpdated"
	// PartialResultsStored indicates a hop result was stored for a step.
	PartialResultsStored Type = "partialResultsStored"
	// ContextUpdated indicates a context key was written.
	ContextUpdated Type = "contextUpdated"
	// StateRecovered indicates a state was restored from a checkpoint.
	StateRecovered Type = "stateRecovered"
	// QueryComplete indicates an orchestration finished.
	QueryComplete Type = "queryComplete"
	// AgentError indicates a worker fault or a rejected agent message.
	AgentError Type = "agentError"
	// ValidationComplete indicates hop results were validated.
	ValidationComplete Type = "validationComplete"
	// ConflictsIdentified indicates a conflict scan over datasets finished.
	ConflictsIdentified Type = "conflictsIdentified"
	// SynthesisDone indicates hop results were combined.
	SynthesisDone Type = "synthesisDone"
	// ResponseGenerated indicates a final response was rendered.
	ResponseGenerated Type = "responseGenerated"
)

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	// Type is the kind of event.
	Type Type
	// QueryID is the top-level query the event belongs to, if any.
	QueryID string
	// SubQueryID is the related sub-query, if any.
	SubQueryID string
	// WorkerID is the related worker, if any.
	WorkerID string
	// CheckpointID identifies the snapshot for state events.
	CheckpointID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Count carries a size for aggregate events (issues found, hops combined).
	Count int
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Sink receives pipeline events. Emit must not block for long and must be
// safe for concurrent use; correctness never depends on a sink consuming events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop is a Sink that discards every event.
var Nop Sink = nopSink{}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}
