package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseRoster(t *testing.T) {
	r, err := ParseRoster([]byte(`
workers:
  - id: searcher
    capabilities: [Search, search, " web "]
  - id: calculator
    capabilities: [math]
    model: claude-3-5-haiku-latest
    system_prompt: You compute.
`))
	if err != nil {
		t.Fatalf("ParseRoster failed: %v", err)
	}
	if len(r.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(r.Workers))
	}
	if got := r.Workers[0].Capabilities; !reflect.DeepEqual(got, []string{"search", "web"}) {
		t.Errorf("capabilities not normalized: %v", got)
	}
	if r.Workers[1].Model != "claude-3-5-haiku-latest" || r.Workers[1].SystemPrompt != "You compute." {
		t.Errorf("overrides not loaded: %+v", r.Workers[1])
	}
	if got := r.Capabilities(); !reflect.DeepEqual(got, []string{"math", "search", "web"}) {
		t.Errorf("Capabilities() = %v", got)
	}
	if w := r.Workers[0].Worker(); w.ID != "searcher" || len(w.Capabilities) != 2 {
		t.Errorf("Worker() = %+v", w)
	}
}

func TestParseRoster_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "", "no workers"},
		{"missing id", "workers:\n  - capabilities: [x]\n", "missing id"},
		{"duplicate id", "workers:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"unknown field", "workers:\n  - id: a\n    skills: [x]\n", "skills"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoster([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRoster(t *testing.T) {
	r, err := LoadRoster("")
	if err != nil {
		t.Fatalf("default roster: %v", err)
	}
	if len(r.Workers) != 2 {
		t.Errorf("expected default roster of 2, got %d", len(r.Workers))
	}

	data, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	path := writeFile(t, t.TempDir(), "workers.yaml", string(data))
	again, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	if !reflect.DeepEqual(again, r) {
		t.Errorf("roster changed on reload: %+v", again)
	}

	if _, err := LoadRoster(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
