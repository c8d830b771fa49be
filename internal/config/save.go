package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// Marshal renders the configuration as YAML that Load reads back.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Save persists the configuration to a YAML file.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Durations are written in time.Duration string form, which viper decodes.

func (t TimeoutsConfig) MarshalYAML() (any, error) {
	return map[string]string{
		"agent":         t.Agent.String(),
		"workflow":      t.Workflow.String(),
		"external_call": t.ExternalCall.String(),
	}, nil
}

func (r RetryConfig) MarshalYAML() (any, error) {
	return struct {
		MaxAttempts     int     `yaml:"max_attempts"`
		InitialInterval string  `yaml:"initial_interval"`
		MaxInterval     string  `yaml:"max_interval"`
		Multiplier      float64 `yaml:"multiplier"`
	}{r.MaxAttempts, r.InitialInterval.String(), r.MaxInterval.String(), r.Multiplier}, nil
}
