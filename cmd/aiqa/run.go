package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/winterwell/aiqa/pkg/auth"
	"github.com/winterwell/aiqa/pkg/config"
	"github.com/winterwell/aiqa/pkg/costs"
	"github.com/winterwell/aiqa/pkg/experiments"
	"github.com/winterwell/aiqa/pkg/ingest"
	"github.com/winterwell/aiqa/pkg/limits"
	"github.com/winterwell/aiqa/pkg/metadata"
	"github.com/winterwell/aiqa/pkg/pricing"
	"github.com/winterwell/aiqa/pkg/propagate"
	"github.com/winterwell/aiqa/pkg/retention"
	"github.com/winterwell/aiqa/pkg/server"
	"github.com/winterwell/aiqa/pkg/store/counter"
	"github.com/winterwell/aiqa/pkg/store/spanstore"
	"github.com/winterwell/aiqa/pkg/telemetry/health"
	"github.com/winterwell/aiqa/pkg/telemetry/logging"
	"github.com/winterwell/aiqa/pkg/telemetry/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ingest service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// keyStore adapts the metadata database to the authenticator's resolver.
type keyStore struct {
	db *metadata.DB
}

func (k *keyStore) LookupKey(ctx context.Context, key string) (*auth.KeyRecord, error) {
	rec, err := k.db.LookupKey(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return &auth.KeyRecord{Tenant: rec.Tenant, Roles: rec.Roles}, nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}

	db, err := metadata.Open(cfg.Metadata.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	pricingSvc, err := pricing.NewService(cfg.Pricing.Path)
	if err != nil {
		return err
	}
	if cfg.Pricing.WatchReload {
		watcher := pricing.NewWatcher(pricingSvc, logger)
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error("pricing watcher stopped", "error", err)
			}
		}()
	}

	var counters counter.Store
	var sweepers []retention.Sweeper
	var checks []health.Check
	if cfg.Counter.RedisURL != "" {
		redisStore, err := counter.NewRedisStore(cfg.Counter.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		counters = redisStore
		checks = append(checks, health.Check{Name: "counter", Pinger: redisStore})
	} else {
		logger.Info("no redis url configured, using in-process counters")
		mem := counter.NewMemoryStore()
		counters = mem
		sweepers = append(sweepers, mem)
	}

	events, err := limits.OpenEventLog(cfg.Limits.EventLogPath)
	if err != nil {
		return err
	}
	defer events.Close()

	spans, err := spanstore.NewElastic(cfg.SpanStore.URL, cfg.SpanStore.Index, logger)
	if err != nil {
		return err
	}
	checks = append(checks, health.Check{Name: "span_store", Pinger: spans})

	var registry *prometheus.Registry
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector = metrics.NewCollector(registry)
	}

	admission := limits.NewController(counters, db, events, logger)
	attributor := costs.NewAttributor(pricingSvc)
	propagator := propagate.New(spans, logger)
	updater := experiments.NewUpdater(db, logger)
	pipeline := ingest.NewPipeline(attributor, admission, spans, propagator, updater, collector, logger)
	authenticator := auth.New(&keyStore{db: db})

	sweeps := retention.NewScheduler(events, sweepers, cfg.Limits.RetentionDays,
		cfg.Limits.PruneSchedule, logger)
	if err := sweeps.Start(ctx); err != nil {
		return err
	}
	defer sweeps.Stop()

	logger.Info("starting aiqa",
		"version", Version,
		"span_store", cfg.SpanStore.URL,
		"index", cfg.SpanStore.Index,
		"pricing_rows", pricingSvc.Table().Len(),
	)

	srv := server.New(&cfg.Server, authenticator, pipeline, registry, checks, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
