package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/winterwell/aiqa/pkg/limits"
)

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep() { c.calls++ }

func TestScheduler_RunPrunesAndSweeps(t *testing.T) {
	log, err := limits.OpenEventLog(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	ctx := context.Background()

	if err := log.Append(ctx, "t1", time.Now().Add(-100*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, "t1", time.Now()); err != nil {
		t.Fatal(err)
	}

	sweeper := &countingSweeper{}
	s := NewScheduler(log, []Sweeper{sweeper}, 90, "17 * * * *", nil)
	s.run(ctx)

	if sweeper.calls != 1 {
		t.Errorf("sweeper calls = %d, want 1", sweeper.calls)
	}
	n, err := log.CountSince(ctx, "t1", time.Now().Add(-365*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("events after prune = %d, want 1", n)
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(nil, []Sweeper{&countingSweeper{}}, 90, "not a cron line", nil)
	if err := s.Start(context.Background()); err == nil {
		t.Error("invalid cron expression should fail Start")
	}
}

func TestScheduler_UnconfiguredIsNoop(t *testing.T) {
	s := NewScheduler(nil, nil, 0, "", nil)
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("unconfigured Start = %v, want nil", err)
	}
}
