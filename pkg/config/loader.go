package config

import (
	"fmt"
	"os"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks a configuration built in code rather than parsed.
func Validate(cfg *SessionConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	return validateConfig(cfg)
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *SessionConfig) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}

	if _, err := cfg.GetBuildTimeout(); err != nil {
		return fmt.Errorf("invalid build_timeout %s: %w", cfg.BuildTimeout, err)
	}
	if _, err := cfg.GetRunTimeout(); err != nil {
		return fmt.Errorf("invalid run_timeout %s: %w", cfg.RunTimeout, err)
	}

	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}

	validReducers := map[string]bool{
		"mean":   true,
		"median": true,
		"min":    true,
	}
	if !validReducers[cfg.Reducer] {
		return fmt.Errorf("invalid reducer: %s (must be mean, median, or min)", cfg.Reducer)
	}

	if cfg.TieBreak != "first" && cfg.TieBreak != "last" {
		return fmt.Errorf("invalid tie_break: %s (must be first or last)", cfg.TieBreak)
	}

	switch cfg.Timing {
	case "", "wall", "reported":
	default:
		return fmt.Errorf("invalid timing: %s (must be wall or reported)", cfg.Timing)
	}

	if cfg.ReportFormat != "yaml" && cfg.ReportFormat != "json" {
		return fmt.Errorf("invalid report_format: %s (must be yaml or json)", cfg.ReportFormat)
	}

	if cfg.RepetitionsOverride < 0 {
		return fmt.Errorf("repetitions_override cannot be negative, got %d", cfg.RepetitionsOverride)
	}
	if cfg.Budget.MaxEvaluations < 0 {
		return fmt.Errorf("budget max_evaluations cannot be negative, got %d", cfg.Budget.MaxEvaluations)
	}

	if cfg.Shell == "" {
		return fmt.Errorf("shell cannot be empty")
	}

	return nil
}
