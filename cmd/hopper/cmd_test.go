package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/config"
	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/llm"
	"github.com/ShayCichocki/hopper/internal/orchestrator"
	"github.com/ShayCichocki/hopper/internal/storage"
	"github.com/ShayCichocki/hopper/pkg/models"
)

func TestParsePayload(t *testing.T) {
	got, err := parsePayload([]string{"text=prefer primary sources", "year=1964", "ratio=0.5", "strict=true", "empty="})
	if err != nil {
		t.Fatalf("parsePayload failed: %v", err)
	}
	want := map[string]any{
		"text":   "prefer primary sources",
		"year":   int64(1964),
		"ratio":  0.5,
		"strict": true,
		"empty":  "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parsePayload() = %#v, want %#v", got, want)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parsePayload([]string{bad}); err == nil {
			t.Errorf("parsePayload(%q) should fail", bad)
		}
	}
}

func TestConfigValueRoundTrip(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"coordinator.max_parallel", "8"},
		{"coordinator.dispatch_timeout", "1m0s"},
		{"coordinator.execution_timeout", "10m0s"},
		{"coordinator.fail_on_no_worker", "true"},
		{"state.backend", "file"},
		{"state.flush_interval", "30s"},
		{"synthesis.conflict_margin", "0.25"},
		{"logging.level", "debug"},
		{"workers_file", "/tmp/workers.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue failed: %v", err)
			}
			got, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue failed: %v", err)
			}
			if got != tt.value {
				t.Errorf("got %q, want %q", got, tt.value)
			}
		})
	}
}

func TestConfigValueErrors(t *testing.T) {
	cfg := config.Default()
	if err := setConfigValue(cfg, "nope", "1"); err == nil {
		t.Error("expected unknown key error")
	}
	if err := setConfigValue(cfg, "coordinator.max_parallel", "many"); err == nil {
		t.Error("expected parse error")
	}
	if _, err := getConfigValue(cfg, "nope"); err == nil {
		t.Error("expected unknown key error")
	}
	if got, _ := getConfigValue(cfg, "anthropic.api_key"); got != "(not set)" {
		t.Errorf("api key should be masked, got %q", got)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	store, closeFn, err := openStore(config.StateConfig{Backend: config.BackendMemory})
	if err != nil || store != nil {
		t.Fatalf("memory backend: store=%v err=%v", store, err)
	}
	if err := closeFn(); err != nil {
		t.Error(err)
	}

	store, closeFn, err = openStore(config.StateConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "files")})
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if _, ok := store.(*storage.FileStore); !ok {
		t.Errorf("expected *storage.FileStore, got %T", store)
	}
	closeFn()

	store, closeFn, err = openStore(config.StateConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "state.db"), SQLiteDriver: "sqlite"})
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	if _, ok := store.(*storage.SQLiteStore); !ok {
		t.Errorf("expected *storage.SQLiteStore, got %T", store)
	}
	if err := store.Put(context.Background(), "queries/q1/state.json", []byte("{}")); err != nil {
		t.Errorf("Put failed: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key-0123456789")
	cfg := config.Default()
	roster := &config.Roster{Workers: []config.WorkerSpec{
		{ID: "general", Capabilities: []string{"search"}},
		{ID: "calc", Capabilities: []string{"math"}, Model: "claude-3-5-haiku-latest"},
	}}
	base := llm.PredictorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("unused")
	})

	reg, clients, err := buildRegistry(cfg, roster, base, zap.NewNop())
	if err != nil {
		t.Fatalf("buildRegistry failed: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 workers, got %d", reg.Len())
	}
	if len(clients) != 1 {
		t.Errorf("only the overriding worker gets its own client, got %d", len(clients))
	}
	if w, ok := reg.SelectWorker([]string{"math"}); !ok || w.ID != "calc" {
		t.Errorf("SelectWorker(math) = %v, %v", w, ok)
	}
}

func TestRenderResult(t *testing.T) {
	agg := &orchestrator.AggregatedResult{
		QueryID:  "q1",
		Response: "Paris is the capital of France.",
		SubQueries: []*models.SubQuery{
			{ID: "sq1", Text: "What country?", Status: models.SubQueryCompleted, WorkerID: "w1",
				Result: &models.HopResult{HopID: "sq1", Confidence: 0.9}},
			{ID: "sq2", Text: "What capital?", Status: models.SubQueryFailed, Error: "no suitable worker"},
		},
		Validation: models.ValidationResult{Issues: []models.ValidationIssue{
			{RuleID: "confidence", Severity: models.SeverityMedium, Message: "low confidence in sq1"},
		}},
	}

	var buf bytes.Buffer
	renderResult(&buf, agg)
	out := buf.String()
	for _, want := range []string{"Paris is the capital", "sq1", "What capital?", "no suitable worker", "confidence 90%", "low confidence in sq1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderState(t *testing.T) {
	st := &models.ReasoningState{
		QueryID:     "q1",
		Status:      models.ReasoningInProgress,
		CurrentStep: 1,
		TotalSteps:  3,
		StartTime:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Context:     map[string]any{"query": "Who?"},
		PartialResults: map[string]models.HopResult{
			"sq2": {HopID: "sq2", Summary: "second", Confidence: 0.5},
			"sq1": {HopID: "sq1", Content: map[string]any{"a": 1}, Confidence: 1},
		},
	}
	var buf bytes.Buffer
	renderState(&buf, st, "cp-1")
	out := buf.String()
	if !strings.Contains(out, "1/3") || !strings.Contains(out, "cp-1") || !strings.Contains(out, "Who?") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Index(out, "sq1") > strings.Index(out, "sq2") {
		t.Errorf("hop results should be sorted:\n%s", out)
	}
	if !strings.Contains(out, "1 claim(s)") {
		t.Errorf("claims fallback missing:\n%s", out)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, true)
	p.Emit(events.Event{Type: events.PartialResultsStored, SubQueryID: "sq1"})
	p.Emit(events.Event{Type: events.AgentError, WorkerID: "w2", Error: errors.New("boom")})
	p.Emit(events.Event{Type: events.StateUpdated})
	out := buf.String()
	if !strings.Contains(out, "hop sq1") || !strings.Contains(out, "w2: boom") {
		t.Errorf("unexpected progress output:\n%s", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("state updates should not be printed:\n%s", out)
	}

	buf.Reset()
	quiet := newProgressPrinter(&buf, false)
	quiet.start("q1", "query")
	quiet.Emit(events.Event{Type: events.PartialResultsStored, SubQueryID: "sq1"})
	if buf.Len() != 0 {
		t.Errorf("disabled printer wrote %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"collapse   inner\nspace", 40, "collapse inner space"},
		{"abcdefghij", 5, "abcd…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
