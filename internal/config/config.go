// Package config handles configuration loading and management for hopper.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for hopper.
type Config struct {
	Anthropic   AnthropicConfig   `mapstructure:"anthropic"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	State       StateConfig       `mapstructure:"state"`
	Synthesis   SynthesisConfig   `mapstructure:"synthesis"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	// WorkersFile is the path of the worker roster. Empty uses the built-in roster.
	WorkersFile string `mapstructure:"workers_file"`
}

// AnthropicConfig holds model access settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	// MaxAttempts bounds predictor calls per prompt, including the first.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CoordinatorConfig holds dispatch settings.
type CoordinatorConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// ExecutionTimeout bounds one worker call; zero falls back to DispatchTimeout.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	FailOnNoWorker   bool          `mapstructure:"fail_on_no_worker"`
	MaxSubQueries    int           `mapstructure:"max_sub_queries"`
}

// Storage backends for StateConfig.Backend.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// StateConfig holds durable state settings.
type StateConfig struct {
	// Backend is sqlite, file or memory.
	Backend string `mapstructure:"backend"`
	// Path is the database file (sqlite) or root directory (file).
	// Empty uses the XDG data directory.
	Path string `mapstructure:"path"`
	// SQLiteDriver is "sqlite" (pure Go) or "sqlite3" (cgo).
	SQLiteDriver  string        `mapstructure:"sqlite_driver"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// SynthesisConfig holds result merging settings.
type SynthesisConfig struct {
	ConflictMargin float64 `mapstructure:"conflict_margin"`
}

// ValidationConfig holds validation thresholds.
type ValidationConfig struct {
	MinConfidence   float64 `mapstructure:"min_confidence"`
	CrossHopPenalty float64 `mapstructure:"cross_hop_penalty"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Dir receives hopper-debug.log. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, HOPPER_<SECTION>_<KEY>)
// 2. Project config (.hopper.yaml in current directory or parent)
// 3. User config (~/.config/hopper/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file, still honouring
// defaults and environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HOPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "HOPPER_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.State.Path = expandHome(cfg.State.Path)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)
	cfg.WorkersFile = expandHome(cfg.WorkersFile)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.State.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	default:
		return fmt.Errorf("state.backend: unknown backend %q", c.State.Backend)
	}
	if c.Coordinator.MaxParallel < 1 {
		return fmt.Errorf("coordinator.max_parallel: must be at least 1, got %d", c.Coordinator.MaxParallel)
	}
	if c.Coordinator.DispatchTimeout < 0 {
		return fmt.Errorf("coordinator.dispatch_timeout: must not be negative")
	}
	if c.Coordinator.ExecutionTimeout < 0 {
		return fmt.Errorf("coordinator.execution_timeout: must not be negative")
	}
	if c.State.FlushInterval <= 0 {
		return fmt.Errorf("state.flush_interval: must be positive")
	}
	for name, f := range map[string]float64{
		"synthesis.conflict_margin":    c.Synthesis.ConflictMargin,
		"validation.min_confidence":    c.Validation.MinConfidence,
		"validation.cross_hop_penalty": c.Validation.CrossHopPenalty,
	} {
		if f < 0 || f > 1 {
			return fmt.Errorf("%s: must be within [0,1], got %v", name, f)
		}
	}
	return nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	dir := userConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("anthropic.max_attempts", cfg.Anthropic.MaxAttempts)
	v.Set("coordinator.max_parallel", cfg.Coordinator.MaxParallel)
	v.Set("coordinator.dispatch_timeout", cfg.Coordinator.DispatchTimeout.String())
	v.Set("coordinator.execution_timeout", cfg.Coordinator.ExecutionTimeout.String())
	v.Set("coordinator.fail_on_no_worker", cfg.Coordinator.FailOnNoWorker)
	v.Set("coordinator.max_sub_queries", cfg.Coordinator.MaxSubQueries)
	v.Set("state.backend", cfg.State.Backend)
	v.Set("state.path", cfg.State.Path)
	v.Set("state.sqlite_driver", cfg.State.SQLiteDriver)
	v.Set("state.flush_interval", cfg.State.FlushInterval.String())
	v.Set("synthesis.conflict_margin", cfg.Synthesis.ConflictMargin)
	v.Set("validation.min_confidence", cfg.Validation.MinConfidence)
	v.Set("validation.cross_hop_penalty", cfg.Validation.CrossHopPenalty)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.dir", cfg.Logging.Dir)
	v.Set("workers_file", cfg.WorkersFile)

	return v.WriteConfig()
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// ProjectConfigPath returns the path to the project config file if it exists.
func ProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)
	v.SetDefault("anthropic.max_attempts", d.Anthropic.MaxAttempts)

	v.SetDefault("coordinator.max_parallel", d.Coordinator.MaxParallel)
	v.SetDefault("coordinator.dispatch_timeout", d.Coordinator.DispatchTimeout.String())
	v.SetDefault("coordinator.execution_timeout", d.Coordinator.ExecutionTimeout.String())
	v.SetDefault("coordinator.fail_on_no_worker", d.Coordinator.FailOnNoWorker)
	v.SetDefault("coordinator.max_sub_queries", d.Coordinator.MaxSubQueries)

	v.SetDefault("state.backend", d.State.Backend)
	v.SetDefault("state.path", d.State.Path)
	v.SetDefault("state.sqlite_driver", d.State.SQLiteDriver)
	v.SetDefault("state.flush_interval", d.State.FlushInterval.String())

	v.SetDefault("synthesis.conflict_margin", d.Synthesis.ConflictMargin)
	v.SetDefault("validation.min_confidence", d.Validation.MinConfidence)
	v.SetDefault("validation.cross_hop_penalty", d.Validation.CrossHopPenalty)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("workers_file", d.WorkersFile)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			MaxTokens:   4096,
			AWSRegion:   "us-east-1",
			MaxAttempts: 3,
		},
		Coordinator: CoordinatorConfig{
			MaxParallel:      4,
			DispatchTimeout:  30 * time.Second,
			ExecutionTimeout: 5 * time.Minute,
			MaxSubQueries:    20,
		},
		State: StateConfig{
			Backend:       BackendSQLite,
			SQLiteDriver:  "sqlite",
			FlushInterval: 5 * time.Minute,
		},
		Synthesis: SynthesisConfig{
			ConflictMargin: 0.3,
		},
		Validation: ValidationConfig{
			MinConfidence:   0.3,
			CrossHopPenalty: 0.9,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// userConfigDir returns the XDG config directory for hopper.
func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hopper")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hopper")
	}
	return filepath.Join(home, ".config", "hopper")
}

// findProjectConfig searches for .hopper.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".hopper.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}
