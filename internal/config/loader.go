package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/resilience"
)

// EnvPrefix prefixes the environment variables that override keys:
// DEEPAGENT_LLM_PROVIDER overrides llm.provider.
const EnvPrefix = "DEEPAGENT"

// Load reads and merges configuration from the global, project and explicit
// paths. Order of precedence (highest to lowest): explicit file, environment,
// project config, global config, defaults. Missing global and project files
// are not errors; a missing explicit file is.
func Load(globalPath, projectPath, explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, err
	}

	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", explicitPath, err)
		}
		ev := viper.New()
		ev.SetConfigFile(explicitPath)
		if err := ev.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", explicitPath, err)
		}
		for _, key := range ev.AllKeys() {
			v.Set(key, ev.Get(key))
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns ~/.deepagent/config.yaml.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".deepagent", "config.yaml"), nil
}

// ProjectPath is the project config, relative to the working directory.
const ProjectPath = ".deepagent/config.yaml"

// LoadDefault loads configuration from the conventional paths, with an
// optional explicit file on top.
func LoadDefault(explicitPath string) (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath, explicitPath)
}

// mergeConfigFile merges a YAML file into v. Missing files are skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.WorkDir = ExpandHome(cfg.WorkDir)
	cfg.Ledger.Path = ExpandHome(cfg.Ledger.Path)
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Providers are the accepted llm.provider values.
var Providers = []string{"anthropic", "bedrock", "ollama", "claude-cli"}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir must be set"))
	}
	if c.Concurrency.MaxAgents < 1 || c.Concurrency.BatchSize < 1 {
		errs = append(errs, errors.New("concurrency.max_agents and concurrency.batch_size must be at least 1"))
	}
	if c.Timeouts.Agent <= 0 || c.Timeouts.Workflow <= 0 || c.Timeouts.ExternalCall <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (want local or s3)", c.Storage.Backend))
	}

	known := false
	for _, p := range Providers {
		known = known || c.LLM.Provider == p
	}
	if !known {
		errs = append(errs, fmt.Errorf("unknown llm.provider %q (want one of %s)", c.LLM.Provider, strings.Join(Providers, ", ")))
	}
	if c.LLM.Provider == "ollama" && c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required for the ollama provider"))
	}

	if _, err := c.ParsePolicies(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParsePolicies returns the configured parse policy of every agent that
// sets one.
func (c *Config) ParsePolicies() (map[string]llm.ParsePolicy, error) {
	policies := make(map[string]llm.ParsePolicy, len(c.Agents))
	for name, a := range c.Agents {
		if a.ParsePolicy == "" {
			continue
		}
		p, err := llm.ParsePolicyFrom(a.ParsePolicy)
		if err != nil {
			return nil, fmt.Errorf("agents.%s.parse_policy: %w", name, err)
		}
		policies[name] = p
	}
	return policies, nil
}

// RetryPolicy returns the resilience settings of retried calls.
func (c *Config) RetryPolicy() resilience.RetryConfig {
	r := resilience.DefaultRetryConfig()
	r.MaxAttempts = c.Retry.MaxAttempts
	r.InitialInterval = c.Retry.InitialInterval
	r.MaxInterval = c.Retry.MaxInterval
	r.Multiplier = c.Retry.Multiplier
	r.CallTimeout = c.Timeouts.ExternalCall
	return r
}
