package models

import "time"

// ReasoningStatus represents the lifecycle of a top-level query.
type ReasoningStatus string

const (
	ReasoningInitializing ReasoningStatus = "initializing"
	ReasoningInProgress   ReasoningStatus = "in_progress"
	ReasoningCompleted    ReasoningStatus = "completed"
	ReasoningFailed       ReasoningStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ReasoningStatus) Valid() bool {
	switch s {
	case ReasoningInitializing, ReasoningInProgress, ReasoningCompleted, ReasoningFailed:
		return true
	default:
		return false
	}
}

// ReasoningState is the execution state tracked for one top-level query.
type ReasoningState struct {
	QueryID        string               `json:"query_id"`
	StartTime      time.Time            `json:"start_time"`
	CurrentStep    int                  `json:"current_step"`
	TotalSteps     int                  `json:"total_steps"`
	Status         ReasoningStatus      `json:"status"`
	PartialResults map[string]HopResult `json:"partial_results,omitempty"`
	Context        map[string]any       `json:"context,omitempty"`
	Metadata       map[string]any       `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the state.
func (s ReasoningState) Clone() ReasoningState {
	out := s
	if s.PartialResults != nil {
		out.PartialResults = make(map[string]HopResult, len(s.PartialResults))
		for k, v := range s.PartialResults {
			out.PartialResults[k] = v.Clone()
		}
	}
	out.Context = CloneMap(s.Context)
	out.Metadata = CloneMap(s.Metadata)
	return out
}

// StateSnapshot is an immutable, timestamped copy of a reasoning state.
type StateSnapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	State        ReasoningState `json:"state"`
	CheckpointID string         `json:"checkpoint_id"`
	// Seq is the position of the snapshot in its query's history.
	Seq int `json:"seq"`
}
