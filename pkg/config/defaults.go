package config

import "time"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":4318"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.SpanStore.URL == "" {
		cfg.SpanStore.URL = "http://localhost:9200"
	}
	if cfg.SpanStore.Index == "" {
		cfg.SpanStore.Index = "spans"
	}

	if cfg.Limits.DefaultPerHour == 0 {
		cfg.Limits.DefaultPerHour = 1000
	}
	if cfg.Limits.EventLogPath == "" {
		cfg.Limits.EventLogPath = "aiqa-events.db"
	}
	if cfg.Limits.RetentionDays == 0 {
		cfg.Limits.RetentionDays = 90
	}
	if cfg.Limits.PruneSchedule == "" {
		// Hourly, off-peak minute.
		cfg.Limits.PruneSchedule = "17 * * * *"
	}

	if cfg.Pricing.Path == "" {
		cfg.Pricing.Path = "pricing.csv"
	}

	if cfg.Metadata.DBPath == "" {
		cfg.Metadata.DBPath = "aiqa-metadata.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
