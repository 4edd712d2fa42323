package models

import (
	"sort"
	"strings"
)

// SubQueryStatus represents the current state of a sub-query.
type SubQueryStatus string

const (
	// SubQueryPending indicates the sub-query has not been dispatched.
	SubQueryPending SubQueryStatus = "pending"
	// SubQueryInProgress indicates a worker is executing the sub-query.
	SubQueryInProgress SubQueryStatus = "in_progress"
	// SubQueryCompleted indicates the sub-query produced a result.
	SubQueryCompleted SubQueryStatus = "completed"
	// SubQueryFailed indicates the sub-query could not be executed.
	SubQueryFailed SubQueryStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubQueryStatus) Valid() bool {
	switch s {
	case SubQueryPending, SubQueryInProgress, SubQueryCompleted, SubQueryFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are expected.
func (s SubQueryStatus) Terminal() bool {
	return s == SubQueryCompleted || s == SubQueryFailed
}

// SubQuery is one atomic unit of a decomposed query.
type SubQuery struct {
	// ID is the unique identifier within the owning query.
	ID string `json:"id"`
	// Text is the natural-language question for this hop.
	Text string `json:"text"`
	// Dependencies lists sub-query IDs that must complete before this one.
	Dependencies []string `json:"dependencies,omitempty"`
	// RequiredCapabilities lists capabilities a worker must have to run this sub-query.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// Status is the current state of the sub-query.
	Status SubQueryStatus `json:"status"`
	// Result is set once the sub-query completes.
	Result *HopResult `json:"result,omitempty"`
	// Error contains the failure reason if the sub-query failed.
	Error string `json:"error,omitempty"`
	// Order is the position of the sub-query in the decomposition (step order).
	Order int `json:"order"`
	// WorkerID is the ID of the worker the sub-query was dispatched to.
	WorkerID string `json:"worker_id,omitempty"`
}

// CapabilityKey returns a canonical key for the required capability set.
// Two sub-queries with the same set of capabilities share a key regardless of order.
func (q *SubQuery) CapabilityKey() string {
	return CapabilityKey(q.RequiredCapabilities)
}

// CapabilityKey returns a canonical, order-independent key for a capability set.
func CapabilityKey(caps []string) string {
	set := NormalizeCapabilities(caps)
	return strings.Join(set, ",")
}

// NormalizeCapabilities lowercases, trims, deduplicates and sorts capabilities.
func NormalizeCapabilities(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
