// Package config defines the service configuration: a YAML file with
// defaults applied, environment overrides, and validation before use.
package config

import (
	"time"

	"github.com/winterwell/aiqa/pkg/telemetry/logging"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	SpanStore SpanStoreConfig `yaml:"span_store"`
	Counter   CounterConfig   `yaml:"counter"`
	Limits    LimitsConfig    `yaml:"limits"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	// ListenAddress is the HTTP bind address (host:port).
	ListenAddress string `yaml:"listen_address"`
	// GRPCListenAddress is the gRPC bind address; empty disables gRPC.
	GRPCListenAddress string `yaml:"grpc_listen_address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// SpanStoreConfig configures the Elasticsearch span store.
type SpanStoreConfig struct {
	// URL is the cluster address; the ELASTICSEARCH_URL environment
	// variable overrides it.
	URL string `yaml:"url"`
	// Index is the span index name.
	Index string `yaml:"index"`
}

// CounterConfig configures the shared usage counter store.
type CounterConfig struct {
	// RedisURL selects the Redis backend; empty falls back to the
	// in-process store. The REDIS_URL environment variable overrides it.
	RedisURL string `yaml:"redis_url"`
}

// LimitsConfig configures admission control.
type LimitsConfig struct {
	// DefaultPerHour is loaded and validated, but the admission controller
	// does not read it: tenants without a configured limit get the fixed
	// limits.DefaultPerHour (1000) whatever this field holds.
	DefaultPerHour int64 `yaml:"default_per_hour"`
	// EventLogPath is the SQLite file holding rate-limit events.
	EventLogPath string `yaml:"event_log_path"`
	// RetentionDays bounds how long rate-limit events are kept.
	RetentionDays int `yaml:"retention_days"`
	// PruneSchedule is the cron expression for the retention sweep.
	PruneSchedule string `yaml:"prune_schedule"`
}

// PricingConfig configures the pricing table.
type PricingConfig struct {
	// Path is the pricing CSV location.
	Path string `yaml:"path"`
	// WatchReload enables hot reload on file change.
	WatchReload bool `yaml:"watch_reload"`
}

// MetadataConfig configures the SQLite metadata database.
type MetadataConfig struct {
	// DBPath is the SQLite file holding tenants, keys, and experiments.
	// The AIQA_METADATA_DB environment variable overrides it.
	DBPath string `yaml:"db_path"`
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}
