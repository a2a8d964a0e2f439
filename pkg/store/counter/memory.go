package counter

import (
	"context"
	"sync"
	"time"
)

type memKey struct {
	tenant string
	bucket int64
}

// MemoryStore implements Store with process-local counters. It serves
// single-node deployments without Redis and all tests. Old buckets are
// dropped by Sweep, which the retention scheduler runs hourly.
type MemoryStore struct {
	mu        sync.Mutex
	admission map[memKey]int64
	usage     map[memKey]int64
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admission: make(map[memKey]int64),
		usage:     make(map[memKey]int64),
		now:       time.Now,
	}
}

// NewMemoryStoreAt creates a store with an injected clock, for tests.
func NewMemoryStoreAt(now func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = now
	return s
}

// Check increments and tests the admission counter for the current bucket.
func (s *MemoryStore) Check(_ context.Context, tenant string, limit int64) (*CheckResult, error) {
	now := s.now()
	key := memKey{tenant, bucket(now)}
	s.mu.Lock()
	s.admission[key]++
	count := s.admission[key]
	s.mu.Unlock()
	return checkResult(count, limit, now), nil
}

// Record bumps the usage counter for the current bucket by n.
func (s *MemoryStore) Record(_ context.Context, tenant string, n int64) error {
	now := s.now()
	s.mu.Lock()
	s.usage[memKey{tenant, bucket(now)}] += n
	s.mu.Unlock()
	return nil
}

// Usage reports the usage counter for tenant in the current bucket.
func (s *MemoryStore) Usage(tenant string) int64 {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[memKey{tenant, bucket(now)}]
}

// Sweep drops buckets older than the previous window, standing in for the
// key expiry Redis provides natively.
func (s *MemoryStore) Sweep() {
	cutoff := bucket(s.now()) - 1
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.admission {
		if key.bucket < cutoff {
			delete(s.admission, key)
		}
	}
	for key := range s.usage {
		if key.bucket < cutoff {
			delete(s.usage, key)
		}
	}
}
