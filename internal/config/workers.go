package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// WorkerSpec describes one worker in a roster file.
type WorkerSpec struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
	// Model overrides anthropic.model for this worker.
	Model string `yaml:"model,omitempty"`
	// SystemPrompt overrides the default system prompt for this worker.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// Worker converts the roster entry into an idle registry worker.
func (s WorkerSpec) Worker() models.Worker {
	return models.Worker{ID: s.ID, Capabilities: models.NormalizeCapabilities(s.Capabilities)}
}

// Roster is the contents of a workers file.
type Roster struct {
	Workers []WorkerSpec `yaml:"workers"`
}

// Capabilities returns every capability offered by the roster, sorted.
func (r *Roster) Capabilities() []string {
	var all []string
	for _, w := range r.Workers {
		all = append(all, w.Capabilities...)
	}
	return models.NormalizeCapabilities(all)
}

// LoadRoster reads a roster file. An empty path returns DefaultRoster.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return DefaultRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workers file: %w", err)
	}
	r, err := ParseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ParseRoster decodes and validates roster YAML. Unknown fields are rejected.
func ParseRoster(data []byte) (*Roster, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Roster
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding workers: %w", err)
	}
	if len(r.Workers) == 0 {
		return nil, fmt.Errorf("no workers defined")
	}

	seen := make(map[string]bool, len(r.Workers))
	for i, w := range r.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("worker %d: missing id", i+1)
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("worker %s: duplicate id", w.ID)
		}
		seen[w.ID] = true
		r.Workers[i].Capabilities = models.NormalizeCapabilities(w.Capabilities)
	}
	return &r, nil
}

// Marshal encodes the roster as YAML.
func (r *Roster) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultRoster is used when no workers file is configured: two general
// workers, so independent hops can run side by side.
func DefaultRoster() *Roster {
	caps := []string{"analysis", "math", "search"}
	return &Roster{Workers: []WorkerSpec{
		{ID: "worker-1", Capabilities: caps},
		{ID: "worker-2", Capabilities: caps},
	}}
}
