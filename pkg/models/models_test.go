package models

import (
	"testing"
	"time"
)

func TestSubQueryStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status SubQueryStatus
		want   bool
	}{
		{"pending is valid", SubQueryPending, true},
		{"in_progress is valid", SubQueryInProgress, true},
		{"completed is valid", SubQueryCompleted, true},
		{"failed is valid", SubQueryFailed, true},
		{"empty string is invalid", SubQueryStatus(""), false},
		{"task status is invalid", SubQueryStatus("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("SubQueryStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestSubQueryStatus_Terminal(t *testing.T) {
	if SubQueryPending.Terminal() || SubQueryInProgress.Terminal() {
		t.Error("pending and in_progress must not be terminal")
	}
	if !SubQueryCompleted.Terminal() || !SubQueryFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
}

func TestWorkerStatus_Valid(t *testing.T) {
	for _, s := range []WorkerStatus{WorkerIdle, WorkerBusy, WorkerError} {
		if !s.Valid() {
			t.Errorf("WorkerStatus(%q).Valid() = false, want true", s)
		}
	}
	if WorkerStatus("running").Valid() {
		t.Error("WorkerStatus(\"running\").Valid() = true, want false")
	}
}

func TestCapabilityKey(t *testing.T) {
	tests := []struct {
		name string
		caps []string
		want string
	}{
		{"empty", nil, ""},
		{"single", []string{"search"}, "search"},
		{"sorted and deduplicated", []string{"Search", "math", "search "}, "math,search"},
		{"blank entries dropped", []string{"", "  ", "web"}, "web"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CapabilityKey(tt.caps); got != tt.want {
				t.Errorf("CapabilityKey(%v) = %q, want %q", tt.caps, got, tt.want)
			}
		})
	}
}

func TestWorker_Supports(t *testing.T) {
	w := Worker{ID: "w1", Capabilities: []string{"search", "Math"}}

	tests := []struct {
		name     string
		required []string
		want     bool
	}{
		{"no requirement", nil, true},
		{"exact subset", []string{"search"}, true},
		{"case insensitive", []string{"math"}, true},
		{"full set", []string{"math", "search"}, true},
		{"missing capability", []string{"search", "code"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Supports(tt.required); got != tt.want {
				t.Errorf("Supports(%v) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float64", 3, 3.0, true},
		{"different numbers", 3, 4.0, false},
		{"strings", "paris", "paris", true},
		{"different strings", "paris", "lyon", false},
		{"nested maps", map[string]any{"a": 1}, map[string]any{"a": 1}, true},
		{"string vs number", "3", 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestHopResult_CloneIsIndependent(t *testing.T) {
	orig := HopResult{
		HopID:   "sq1",
		Content: map[string]any{"city": "Paris", "nested": map[string]any{"k": "v"}},
		Metadata: HopMetadata{
			Timestamp: time.Now(),
			Citations: []Citation{{ID: "c1"}},
		},
	}

	cp := orig.Clone()
	cp.Content["city"] = "Lyon"
	cp.Content["nested"].(map[string]any)["k"] = "changed"
	cp.Metadata.Citations[0].ID = "c2"

	if orig.Content["city"] != "Paris" {
		t.Errorf("original content mutated: %v", orig.Content["city"])
	}
	if orig.Content["nested"].(map[string]any)["k"] != "v" {
		t.Error("original nested map mutated")
	}
	if orig.Metadata.Citations[0].ID != "c1" {
		t.Error("original citations mutated")
	}
}

func TestReasoningState_CloneIsIndependent(t *testing.T) {
	st := ReasoningState{
		QueryID:        "q1",
		PartialResults: map[string]HopResult{"sq1": {HopID: "sq1", Content: map[string]any{"a": 1}}},
		Context:        map[string]any{"k": "v"},
	}

	cp := st.Clone()
	cp.PartialResults["sq1"].Content["a"] = 2
	cp.Context["k"] = "changed"

	if st.PartialResults["sq1"].Content["a"] != 1 {
		t.Error("original partial result mutated")
	}
	if st.Context["k"] != "v" {
		t.Error("original context mutated")
	}
}

func TestQualityComponents_Mean(t *testing.T) {
	c := QualityComponents{Consistency: 1, Completeness: 0.5, Reliability: 0.5, Coherence: 0}
	if got := c.Mean(); got != 0.5 {
		t.Errorf("Mean() = %v, want 0.5", got)
	}
}

func TestValidationResult_HasBlockingIssue(t *testing.T) {
	v := ValidationResult{Issues: []ValidationIssue{{Severity: SeverityLow}, {Severity: SeverityMedium}}}
	if v.HasBlockingIssue() {
		t.Error("low/medium issues should not block")
	}
	v.Issues = append(v.Issues, ValidationIssue{Severity: SeverityHigh})
	if !v.HasBlockingIssue() {
		t.Error("high issue should block")
	}
}
