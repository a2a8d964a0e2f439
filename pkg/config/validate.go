package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for inconsistencies a running service
// could not tolerate.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Server.ListenAddress == "" {
		problems = append(problems, "server.listen_address must not be empty")
	}
	if cfg.SpanStore.URL == "" {
		problems = append(problems, "span_store.url must not be empty")
	} else if !strings.HasPrefix(cfg.SpanStore.URL, "http://") &&
		!strings.HasPrefix(cfg.SpanStore.URL, "https://") {
		problems = append(problems, fmt.Sprintf("span_store.url %q must be an http(s) URL", cfg.SpanStore.URL))
	}
	if cfg.SpanStore.Index == "" {
		problems = append(problems, "span_store.index must not be empty")
	}
	if cfg.Counter.RedisURL != "" && !strings.HasPrefix(cfg.Counter.RedisURL, "redis://") &&
		!strings.HasPrefix(cfg.Counter.RedisURL, "rediss://") {
		problems = append(problems, fmt.Sprintf("counter.redis_url %q must be a redis(s) URL", cfg.Counter.RedisURL))
	}
	if cfg.Limits.DefaultPerHour < 0 {
		problems = append(problems, "limits.default_per_hour must not be negative")
	}
	if cfg.Limits.RetentionDays < 0 {
		problems = append(problems, "limits.retention_days must not be negative")
	}
	if cfg.Pricing.Path == "" {
		problems = append(problems, "pricing.path must not be empty")
	}
	if cfg.Metadata.DBPath == "" {
		problems = append(problems, "metadata.db_path must not be empty")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
