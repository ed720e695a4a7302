// Package config handles configuration loading and management for the
// foreman daemon: org-global settings (config.yaml) and resolution of
// the home directory every other persisted artifact (protected/,
// projects/, members/) lives under.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds foreman's org-global settings, loaded from
// <home>/config.yaml (spec.md §6).
type Config struct {
	DefaultHuman   string          `mapstructure:"default_human"`
	SourceRepoPath string          `mapstructure:"source_repo_path"`
	Anthropic      AnthropicConfig `mapstructure:"anthropic"`
	Daemon         DaemonConfig    `mapstructure:"daemon"`
}

// AnthropicConfig holds the turn executor's model-backend settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// DaemonConfig holds the dispatcher's cycle and lifecycle defaults;
// `foreman start` flags override these per-invocation.
type DaemonConfig struct {
	Port            int           `mapstructure:"port"`
	Interval        time.Duration `mapstructure:"interval"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	TokenBudget     int           `mapstructure:"token_budget"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// Load reads <home>/config.yaml, falling back to defaults for anything
// absent, and applies the ANTHROPIC_API_KEY environment override.
func Load(home string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes cfg to <home>/config.yaml.
func Save(home string, cfg *Config) error {
	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("creating home directory: %w", err)
	}

	configPath := filepath.Join(home, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("default_human", cfg.DefaultHuman)
	v.Set("source_repo_path", cfg.SourceRepoPath)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("daemon.port", cfg.Daemon.Port)
	v.Set("daemon.interval", cfg.Daemon.Interval.String())
	v.Set("daemon.max_concurrent", cfg.Daemon.MaxConcurrent)
	v.Set("daemon.token_budget", cfg.Daemon.TokenBudget)
	v.Set("daemon.graceful_timeout", cfg.Daemon.GracefulTimeout.String())

	return v.WriteConfig()
}

// setDefaults configures built-in defaults, matching spec.md's stated
// 15s graceful-shutdown default and a conservative dispatcher cycle.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("daemon.port", 8080)
	v.SetDefault("daemon.interval", "5s")
	v.SetDefault("daemon.max_concurrent", 4)
	v.SetDefault("daemon.token_budget", 100000)
	v.SetDefault("daemon.graceful_timeout", "15s")
}

// GetHomeDir resolves the daemon's home directory: FOREMAN_HOME if set,
// otherwise ~/.foreman.
func GetHomeDir() string {
	if home := os.Getenv("FOREMAN_HOME"); home != "" {
		return home
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".foreman")
	}
	return filepath.Join(home, ".foreman")
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with built-in default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{},
		Daemon: DaemonConfig{
			Port:            8080,
			Interval:        5 * time.Second,
			MaxConcurrent:   4,
			TokenBudget:     100000,
			GracefulTimeout: 15 * time.Second,
		},
	}
}
