package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseConfigYAML parses a SessionConfig from YAML bytes, filling unset
// fields from Default, and validates it.
func ParseConfigYAML(data []byte) (*SessionConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseConfigYAMLString parses a SessionConfig from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*SessionConfig, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// MarshalConfigYAML renders a configuration back to YAML.
func MarshalConfigYAML(cfg *SessionConfig) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}
