package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Coordinator.MaxParallel != 4 {
		t.Errorf("expected max_parallel 4, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Coordinator.DispatchTimeout != 30*time.Second {
		t.Errorf("expected dispatch timeout 30s, got %v", cfg.Coordinator.DispatchTimeout)
	}
	if cfg.Coordinator.ExecutionTimeout != 5*time.Minute {
		t.Errorf("expected execution timeout 5m, got %v", cfg.Coordinator.ExecutionTimeout)
	}
	if cfg.State.FlushInterval != 5*time.Minute {
		t.Errorf("expected flush interval 5m, got %v", cfg.State.FlushInterval)
	}
	if cfg.State.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.State.Backend)
	}
	if cfg.Synthesis.ConflictMargin != 0.3 {
		t.Errorf("expected conflict margin 0.3, got %v", cfg.Synthesis.ConflictMargin)
	}
	if cfg.Validation.CrossHopPenalty != 0.9 {
		t.Errorf("expected cross-hop penalty 0.9, got %v", cfg.Validation.CrossHopPenalty)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("HOPPER_ANTHROPIC_API_KEY", "")
	path := writeFile(t, t.TempDir(), "config.yaml", `
anthropic:
  api_key: test-key
  model: claude-3-5-haiku-latest
coordinator:
  max_parallel: 2
  dispatch_timeout: 45s
  execution_timeout: 2m
  fail_on_no_worker: true
state:
  backend: file
  path: /tmp/hopper-state
  flush_interval: 1m
synthesis:
  conflict_margin: 0.2
logging:
  level: debug
workers_file: /etc/hopper/workers.yaml
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Anthropic.Model != "claude-3-5-haiku-latest" {
		t.Errorf("unexpected model %q", cfg.Anthropic.Model)
	}
	if cfg.Coordinator.MaxParallel != 2 || !cfg.Coordinator.FailOnNoWorker {
		t.Errorf("coordinator not loaded: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.DispatchTimeout != 45*time.Second {
		t.Errorf("expected dispatch timeout 45s, got %v", cfg.Coordinator.DispatchTimeout)
	}
	if cfg.Coordinator.ExecutionTimeout != 2*time.Minute {
		t.Errorf("expected execution timeout 2m, got %v", cfg.Coordinator.ExecutionTimeout)
	}
	if cfg.State.Backend != BackendFile || cfg.State.Path != "/tmp/hopper-state" {
		t.Errorf("state not loaded: %+v", cfg.State)
	}
	if cfg.State.FlushInterval != time.Minute {
		t.Errorf("expected flush interval 1m, got %v", cfg.State.FlushInterval)
	}
	if cfg.Synthesis.ConflictMargin != 0.2 {
		t.Errorf("expected conflict margin 0.2, got %v", cfg.Synthesis.ConflictMargin)
	}
	// Unset values keep their defaults.
	if cfg.Validation.MinConfidence != 0.3 {
		t.Errorf("expected default min confidence, got %v", cfg.Validation.MinConfidence)
	}
	if cfg.WorkersFile != "/etc/hopper/workers.yaml" {
		t.Errorf("unexpected workers file %q", cfg.WorkersFile)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "coordinator:\n  max_parallel: 2\n")
	t.Setenv("HOPPER_COORDINATOR_MAX_PARALLEL", "9")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Coordinator.MaxParallel != 9 {
		t.Errorf("expected env override 9, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected key from environment, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("MY_HOPPER_KEY", "sk-ant-expanded")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("HOPPER_ANTHROPIC_API_KEY", "")
	path := writeFile(t, t.TempDir(), "config.yaml", "anthropic:\n  api_key: ${MY_HOPPER_KEY}\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-expanded" {
		t.Errorf("expected expanded key, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown backend", "state:\n  backend: redis\n", "state.backend"},
		{"zero parallelism", "coordinator:\n  max_parallel: 0\n", "max_parallel"},
		{"margin out of range", "synthesis:\n  conflict_margin: 1.5\n", "conflict_margin"},
		{"bad yaml", "coordinator: [\n", "reading config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			_, err := LoadFromPath(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_UserAndProjectConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, "hopper"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(xdg, "hopper"), "config.yaml", "coordinator:\n  max_parallel: 3\nlogging:\n  level: warn\n")

	project := t.TempDir()
	writeFile(t, project, ".hopper.yaml", "coordinator:\n  max_parallel: 6\n")
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Coordinator.MaxParallel != 6 {
		t.Errorf("project config should win, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("user config should apply, got %q", cfg.Logging.Level)
	}
	if got := UserConfigPath(); got != filepath.Join(xdg, "hopper", "config.yaml") {
		t.Errorf("unexpected user config path %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("HOPPER_ANTHROPIC_API_KEY", "")

	cfg := Default()
	cfg.Coordinator.MaxParallel = 7
	cfg.State.Backend = BackendMemory
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(UserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Coordinator.MaxParallel != 7 || loaded.State.Backend != BackendMemory {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
