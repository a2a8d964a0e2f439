// Package retention runs the scheduled housekeeping sweeps: pruning old
// rate-limit events and dropping expired in-process counter buckets.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/winterwell/aiqa/pkg/limits"
)

// Sweeper is any store with an in-process expiry sweep.
type Sweeper interface {
	Sweep()
}

// Scheduler runs the sweeps on a cron schedule.
type Scheduler struct {
	events    *limits.EventLog
	sweepers  []Sweeper
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler. events may be nil; sweepers may be
// empty; with neither configured Start is a no-op.
func NewScheduler(events *limits.EventLog, sweepers []Sweeper, retentionDays int, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		events:    events,
		sweepers:  sweepers,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    logger.With("component", "retention"),
	}
}

// Start schedules the sweep and returns; the cron runner owns the timing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || (s.events == nil && len(s.sweepers) == 0) {
		s.logger.Info("retention sweep not configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		"schedule", s.schedule, "retention", s.retention)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

func (s *Scheduler) run(ctx context.Context) {
	for _, sw := range s.sweepers {
		sw.Sweep()
	}
	if s.events == nil || s.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.retention)
	pruned, err := s.events.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("rate-limit event prune failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("rate-limit events pruned", "count", pruned, "cutoff", cutoff)
	}
}
