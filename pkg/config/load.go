package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration at path, applies defaults and
// environment overrides, and validates the result. An empty path yields the
// default configuration with overrides applied.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse configuration file %q: %w", path, err)
		}
	}
	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies the environment contract. Store addresses use
// their conventional variable names; service settings use the AIQA_ prefix.
// Environment always wins over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ELASTICSEARCH_URL"); v != "" {
		cfg.SpanStore.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Counter.RedisURL = v
	}
	if v := os.Getenv("AIQA_METADATA_DB"); v != "" {
		cfg.Metadata.DBPath = v
	}
	if v := os.Getenv("AIQA_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("AIQA_GRPC_LISTEN_ADDRESS"); v != "" {
		cfg.Server.GRPCListenAddress = v
	}
	if v := os.Getenv("AIQA_PRICING_PATH"); v != "" {
		cfg.Pricing.Path = v
	}
	if v := os.Getenv("AIQA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AIQA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
