package counter

import (
	"context"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStore_CheckWindow(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := NewMemoryStoreAt(fixedClock(now))
	ctx := context.Background()

	// limit 2: first two calls admitted, third rejected
	for i, wantAllowed := range []bool{true, true, false} {
		res, err := s.Check(ctx, "tenant-a", 2)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if res.Allowed != wantAllowed {
			t.Errorf("check %d allowed = %v, want %v", i, res.Allowed, wantAllowed)
		}
	}
}

func TestMemoryStore_RemainingAndReset(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := NewMemoryStoreAt(fixedClock(now))

	res, _ := s.Check(context.Background(), "tenant-a", 1)
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	wantReset := (now.UnixMilli()/Window.Milliseconds() + 1) * Window.Milliseconds()
	if res.ResetAt != wantReset {
		t.Errorf("resetAt = %d, want %d", res.ResetAt, wantReset)
	}

	res, _ = s.Check(context.Background(), "tenant-a", 1)
	if res.Allowed || res.Remaining != -1 {
		t.Errorf("over-limit check = %+v", res)
	}
}

func TestMemoryStore_BucketsRollOver(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	clock := now
	s := NewMemoryStoreAt(func() time.Time { return clock })
	ctx := context.Background()

	if res, _ := s.Check(ctx, "tenant-a", 1); !res.Allowed {
		t.Fatal("first check should pass")
	}
	if res, _ := s.Check(ctx, "tenant-a", 1); res.Allowed {
		t.Fatal("second check should fail")
	}

	clock = now.Add(Window)
	if res, _ := s.Check(ctx, "tenant-a", 1); !res.Allowed {
		t.Error("new window should reset the counter")
	}
}

func TestMemoryStore_TenantsIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Check(ctx, "tenant-a", 1)
	if res, _ := s.Check(ctx, "tenant-b", 1); !res.Allowed {
		t.Error("tenant-b affected by tenant-a's counter")
	}
}

func TestMemoryStore_RecordIndependentOfCheck(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Record(ctx, "tenant-a", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, "tenant-a", 3); err != nil {
		t.Fatal(err)
	}
	if got := s.Usage("tenant-a"); got != 8 {
		t.Errorf("usage = %d, want 8", got)
	}
	if res, _ := s.Check(ctx, "tenant-a", 1); !res.Allowed {
		t.Error("usage records must not consume the admission budget")
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	clock := now
	s := NewMemoryStoreAt(func() time.Time { return clock })
	ctx := context.Background()

	s.Check(ctx, "tenant-a", 10)
	s.Record(ctx, "tenant-a", 4)

	clock = now.Add(3 * Window)
	s.Sweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.admission) != 0 || len(s.usage) != 0 {
		t.Errorf("sweep left %d admission, %d usage buckets", len(s.admission), len(s.usage))
	}
}
