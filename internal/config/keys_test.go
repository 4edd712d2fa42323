package config

import (
	"errors"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		hopperEnv  string
		env        string
		cfg        *Config
		wantKey    string
		wantSource KeySource
		wantErr    error
	}{
		{"hopper env wins", "sk-ant-hopper", "sk-ant-env", nil, "sk-ant-hopper", KeySourceEnv, nil},
		{"anthropic env", "", "sk-ant-env", &Config{Anthropic: AnthropicConfig{APIKey: "cfg"}}, "sk-ant-env", KeySourceEnv, nil},
		{"config file", "", "", &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config"}}, "sk-ant-config", KeySourceConfig, nil},
		{"unresolved reference", "", "", &Config{Anthropic: AnthropicConfig{APIKey: "${UNSET_HOPPER_VAR}"}}, "", KeySourceNone, ErrNoAPIKey},
		{"bedrock needs no key", "", "", &Config{Anthropic: AnthropicConfig{UseBedrock: true}}, "", KeySourceBedrock, nil},
		{"nothing", "", "", nil, "", KeySourceNone, ErrNoAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOPPER_ANTHROPIC_API_KEY", tt.hopperEnv)
			t.Setenv("ANTHROPIC_API_KEY", tt.env)

			key, source, err := ResolveAPIKey(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if key != tt.wantKey || source != tt.wantSource {
				t.Errorf("got (%q, %s), want (%q, %s)", key, source, tt.wantKey, tt.wantSource)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"", true},
		{"not-a-key-at-all-really", true},
		{"sk-ant-short", true},
		{"sk-ant-REDACTED", false},
	}
	for _, tt := range tests {
		if err := ValidateAPIKey(tt.key); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := map[string]string{
		"":                              "(not set)",
		"short":                         "***",
		"sk-ant-REDACTED": "sk-ant-...mnop",
	}
	for key, want := range tests {
		if got := MaskAPIKey(key); got != want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", key, got, want)
		}
	}
}
