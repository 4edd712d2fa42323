package models

import (
	"reflect"
	"time"
)

// Citation points at the evidence backing a hop result.
type Citation struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Reference  string  `json:"reference"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context,omitempty"`
}

// HopMetadata carries provenance for a hop result.
type HopMetadata struct {
	Source    string     `json:"source,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Citations []Citation `json:"citations,omitempty"`
}

// HopResult is the output of one executed sub-query.
type HopResult struct {
	// HopID is the ID of the sub-query that produced this result.
	HopID string `json:"hop_id"`
	// Content holds structured claims keyed by fact name.
	Content map[string]any `json:"content,omitempty"`
	// Summary is the narrative answer for this hop.
	Summary string `json:"summary,omitempty"`
	// Confidence is the producer's confidence in [0,1].
	Confidence float64     `json:"confidence"`
	Metadata   HopMetadata `json:"metadata"`
}

// Empty returns true if the result carries neither claims nor a summary.
func (h HopResult) Empty() bool {
	return len(h.Content) == 0 && h.Summary == ""
}

// Clone returns a copy that shares no maps or slices with h.
func (h HopResult) Clone() HopResult {
	out := h
	out.Content = CloneMap(h.Content)
	if h.Metadata.Citations != nil {
		out.Metadata.Citations = append([]Citation(nil), h.Metadata.Citations...)
	}
	return out
}

// ValuesEqual compares two content values. Numbers compare by value regardless
// of their Go type so that JSON-decoded float64 matches an int literal.
func ValuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// ToFloat exposes numeric coercion for content values.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}

// CloneMap makes a shallow copy of m. Nested maps and slices are copied recursively.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices inside v; other values are returned as is.
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	case HopResult:
		return t.Clone()
	default:
		return v
	}
}
