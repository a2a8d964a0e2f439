// Package limits implements per-tenant admission control for the ingest
// path: a fixed-window rate check over the shared counter store, plus a
// durable log of rejections.
package limits

import (
	"context"
	"log/slog"
	"time"

	"github.com/winterwell/aiqa/pkg/store/counter"
)

// DefaultPerHour is the rate limit applied when a tenant account carries no
// explicit limit.
const DefaultPerHour = 1000

// TenantLimits resolves a tenant's configured hourly rate limit.
type TenantLimits interface {
	// RateLimitPerHour returns the tenant's limit, or 0 when the account
	// has none configured; the controller then applies DefaultPerHour.
	RateLimitPerHour(ctx context.Context, tenant string) (int64, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed is true for admitted requests, including the fail-open case.
	Allowed bool
	// Undecidable is true when the counter store could not answer; the
	// caller admitted the request without a verdict.
	Undecidable bool
	// Remaining and ResetAt mirror the counter check; meaningful only when
	// Undecidable is false.
	Remaining int64
	ResetAt   int64
}

// RetryAfter computes the Retry-After hint in whole seconds, rounded up.
func (d Decision) RetryAfter(now time.Time) int64 {
	ms := d.ResetAt - now.UnixMilli()
	if ms <= 0 {
		return 1
	}
	return (ms + 999) / 1000
}

// Controller performs admission checks. The counter store is the shared
// source of truth; the event log receives a durable row per rejection.
type Controller struct {
	counters counter.Store
	tenants  TenantLimits
	events   *EventLog
	logger   *slog.Logger
}

// NewController wires an admission controller. events may be nil, in which
// case rejections are only logged.
func NewController(counters counter.Store, tenants TenantLimits, events *EventLog, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		counters: counters,
		tenants:  tenants,
		events:   events,
		logger:   logger.With("component", "limits"),
	}
}

// Check runs the fixed-window admission check for one ingest call.
//
// A counter-store failure fails open: the request is admitted, flagged
// undecidable, and logged — dropping telemetry over a degraded limiter is
// the wrong trade. A rejection appends to the event log without blocking
// the caller.
func (c *Controller) Check(ctx context.Context, tenant string) Decision {
	limit := c.limitFor(ctx, tenant)

	res, err := c.counters.Check(ctx, tenant, limit)
	if err != nil || res == nil {
		c.logger.Warn("counter store undecidable, admitting",
			"tenant", tenant, "error", err)
		return Decision{Allowed: true, Undecidable: true}
	}

	if !res.Allowed {
		c.recordRejection(tenant)
	}
	return Decision{
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
	}
}

// RecordUsage attributes n spans to the tenant's current usage bucket.
// Decoupled from Check: admission is per-call, attribution is per-span.
func (c *Controller) RecordUsage(ctx context.Context, tenant string, n int64) {
	if err := c.counters.Record(ctx, tenant, n); err != nil {
		c.logger.Warn("usage record failed", "tenant", tenant, "error", err)
	}
}

func (c *Controller) limitFor(ctx context.Context, tenant string) int64 {
	if c.tenants == nil {
		return DefaultPerHour
	}
	limit, err := c.tenants.RateLimitPerHour(ctx, tenant)
	if err != nil {
		c.logger.Warn("tenant limit lookup failed, using default",
			"tenant", tenant, "error", err)
		return DefaultPerHour
	}
	if limit <= 0 {
		return DefaultPerHour
	}
	return limit
}

// recordRejection appends a rate-limit event without blocking the response.
func (c *Controller) recordRejection(tenant string) {
	if c.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.events.Append(ctx, tenant, time.Now()); err != nil {
			c.logger.Error("rate-limit event append failed",
				"tenant", tenant, "error", err)
		}
	}()
}
