package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hopper/internal/config"
)

var (
	initWorkersPath string
	initForce       bool
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hopper configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/hopper/config.yaml
Project-specific overrides can be placed in .hopper.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !strings.EqualFold(args[0], "anthropic.api_key") {
				dropEnvKey(cfg)
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and worker roster",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&initWorkersPath, "workers", "", "Roster path (default: next to the user config)")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfgPath := config.UserConfigPath()
	if initWorkersPath == "" {
		initWorkersPath = filepath.Join(filepath.Dir(cfgPath), "workers.yaml")
	}
	for _, p := range []string{cfgPath, initWorkersPath} {
		if _, err := os.Stat(p); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", p)
		}
	}

	roster, err := config.DefaultRoster().Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(initWorkersPath), 0755); err != nil {
		return fmt.Errorf("create roster directory: %w", err)
	}
	if err := os.WriteFile(initWorkersPath, roster, 0644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	printStatus("✓", "Wrote worker roster to "+initWorkersPath, color.FgGreen)

	cfg := config.Default()
	cfg.WorkersFile = initWorkersPath
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	printStatus("✓", "Wrote config to "+cfgPath, color.FgGreen)

	if _, source, err := config.ResolveAPIKey(cfg); errors.Is(err, config.ErrNoAPIKey) {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "API key found ("+string(source)+")", color.FgGreen)
	}
	return nil
}

// dropEnvKey clears an API key that only came from the environment so it
// is not written to the config file.
func dropEnvKey(cfg *config.Config) {
	if key, source, err := config.ResolveAPIKey(cfg); err == nil && source == config.KeySourceEnv && key == cfg.Anthropic.APIKey {
		cfg.Anthropic.APIKey = ""
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// configKeys lists the keys shown by 'hopper config', in display order.
var configKeys = []string{
	"anthropic.api_key",
	"anthropic.model",
	"anthropic.max_tokens",
	"anthropic.use_bedrock",
	"anthropic.aws_region",
	"anthropic.max_attempts",
	"coordinator.max_parallel",
	"coordinator.dispatch_timeout",
	"coordinator.execution_timeout",
	"coordinator.fail_on_no_worker",
	"coordinator.max_sub_queries",
	"state.backend",
	"state.path",
	"state.flush_interval",
	"synthesis.conflict_margin",
	"validation.min_confidence",
	"validation.cross_hop_penalty",
	"logging.level",
	"workers_file",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}
	if p := config.ProjectConfigPath(); p != "" {
		fmt.Println(dim.Render("project overrides: " + p))
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		if cfg.Anthropic.Model == "" {
			return "(default)", nil
		}
		return cfg.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.FormatInt(cfg.Anthropic.MaxTokens, 10), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.max_attempts":
		return strconv.Itoa(cfg.Anthropic.MaxAttempts), nil
	case "coordinator.max_parallel":
		return strconv.Itoa(cfg.Coordinator.MaxParallel), nil
	case "coordinator.dispatch_timeout":
		return cfg.Coordinator.DispatchTimeout.String(), nil
	case "coordinator.execution_timeout":
		return cfg.Coordinator.ExecutionTimeout.String(), nil
	case "coordinator.fail_on_no_worker":
		return strconv.FormatBool(cfg.Coordinator.FailOnNoWorker), nil
	case "coordinator.max_sub_queries":
		return strconv.Itoa(cfg.Coordinator.MaxSubQueries), nil
	case "state.backend":
		return cfg.State.Backend, nil
	case "state.path":
		if cfg.State.Path == "" {
			return "(default)", nil
		}
		return cfg.State.Path, nil
	case "state.flush_interval":
		return cfg.State.FlushInterval.String(), nil
	case "synthesis.conflict_margin":
		return strconv.FormatFloat(cfg.Synthesis.ConflictMargin, 'g', -1, 64), nil
	case "validation.min_confidence":
		return strconv.FormatFloat(cfg.Validation.MinConfidence, 'g', -1, 64), nil
	case "validation.cross_hop_penalty":
		return strconv.FormatFloat(cfg.Validation.CrossHopPenalty, 'g', -1, 64), nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "workers_file":
		if cfg.WorkersFile == "" {
			return "(built-in roster)", nil
		}
		return cfg.WorkersFile, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		cfg.Anthropic.MaxTokens, err = strconv.ParseInt(value, 10, 64)
	case "anthropic.use_bedrock":
		cfg.Anthropic.UseBedrock, err = strconv.ParseBool(value)
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.max_attempts":
		cfg.Anthropic.MaxAttempts, err = strconv.Atoi(value)
	case "coordinator.max_parallel":
		cfg.Coordinator.MaxParallel, err = strconv.Atoi(value)
	case "coordinator.dispatch_timeout":
		cfg.Coordinator.DispatchTimeout, err = time.ParseDuration(value)
	case "coordinator.execution_timeout":
		cfg.Coordinator.ExecutionTimeout, err = time.ParseDuration(value)
	case "coordinator.fail_on_no_worker":
		cfg.Coordinator.FailOnNoWorker, err = strconv.ParseBool(value)
	case "coordinator.max_sub_queries":
		cfg.Coordinator.MaxSubQueries, err = strconv.Atoi(value)
	case "state.backend":
		cfg.State.Backend = value
	case "state.path":
		cfg.State.Path = value
	case "state.flush_interval":
		cfg.State.FlushInterval, err = time.ParseDuration(value)
	case "synthesis.conflict_margin":
		cfg.Synthesis.ConflictMargin, err = strconv.ParseFloat(value, 64)
	case "validation.min_confidence":
		cfg.Validation.MinConfidence, err = strconv.ParseFloat(value, 64)
	case "validation.cross_hop_penalty":
		cfg.Validation.CrossHopPenalty, err = strconv.ParseFloat(value, 64)
	case "logging.level":
		cfg.Logging.Level = value
	case "workers_file":
		cfg.WorkersFile = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}
