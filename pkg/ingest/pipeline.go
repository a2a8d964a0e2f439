// Package ingest is the trace export endpoint: it ties decoding, admission,
// cost attribution, stats propagation, persistence, and the experiment
// fan-out into one pipeline, and serves it over HTTP and gRPC.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/winterwell/aiqa/pkg/costs"
	"github.com/winterwell/aiqa/pkg/experiments"
	"github.com/winterwell/aiqa/pkg/limits"
	"github.com/winterwell/aiqa/pkg/otlp"
	"github.com/winterwell/aiqa/pkg/propagate"
	"github.com/winterwell/aiqa/pkg/span"
	"github.com/winterwell/aiqa/pkg/store/spanstore"
	"github.com/winterwell/aiqa/pkg/telemetry/metrics"
)

// Pipeline executes one export call end to end. Requests run independently;
// the only shared state lives in the external stores.
type Pipeline struct {
	attributor  *costs.Attributor
	admission   *limits.Controller
	store       spanstore.Store
	propagator  *propagate.Propagator
	experiments *experiments.Updater
	metrics     *metrics.Collector
	logger      *slog.Logger

	// fanouts tracks the post-response goroutines so Drain can wait for
	// them on shutdown.
	fanouts sync.WaitGroup
}

// NewPipeline wires a pipeline. experiments and collector may be nil.
func NewPipeline(
	attributor *costs.Attributor,
	admission *limits.Controller,
	store spanstore.Store,
	propagator *propagate.Propagator,
	updater *experiments.Updater,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if collector != nil {
		propagator.SetPatchObserver(collector.RecordPatch)
	}
	return &Pipeline{
		attributor:  attributor,
		admission:   admission,
		store:       store,
		propagator:  propagator,
		experiments: updater,
		metrics:     collector,
		logger:      logger.With("component", "ingest"),
	}
}

// Export decodes and runs one export body. A nil return is a full success
// (including the empty-batch case); failures are *StatusError.
func (p *Pipeline) Export(ctx context.Context, tenant string, body []byte, contentType string) error {
	batch, err := otlp.Decode(body, contentType)
	if err != nil {
		p.reject("decode")
		return asStatusError(err)
	}
	return p.ExportSpans(ctx, tenant, batch)
}

// ExportSpans runs an already-decoded batch through the pipeline.
//
// Client cancellation is deliberately not honoured past this point: an
// aborted pipeline would leave ancestors patched but the batch unwritten.
func (p *Pipeline) ExportSpans(ctx context.Context, tenant string, batch []*span.Span) error {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()

	if err := otlp.ValidateBatch(batch); err != nil {
		p.reject("invalid")
		return asStatusError(err)
	}
	if len(batch) == 0 {
		p.record("empty", 0, started)
		return nil
	}

	decision := p.admission.Check(ctx, tenant)
	if !decision.Allowed {
		p.reject("rate_limited")
		return rateLimited(decision.RetryAfter(time.Now()))
	}

	var totalCost float64
	for _, s := range batch {
		s.Tenant = tenant
		p.attributor.Attribute(s)
		if v, ok := s.Attr(costs.AttrCostUSD); ok {
			if f, numeric := v.AsFloat(); numeric {
				totalCost += f
			}
		}
		s.FillDuration()
	}

	roots := p.propagator.Propagate(ctx, tenant, batch)

	if err := p.store.BulkInsert(ctx, batch); err != nil {
		p.reject("store")
		return asStatusError(err)
	}

	p.fanouts.Add(1)
	go func() {
		defer p.fanouts.Done()
		p.admission.RecordUsage(context.Background(), tenant, int64(len(batch)))
	}()

	if p.experiments != nil {
		p.fanouts.Add(1)
		go func() {
			defer p.fanouts.Done()
			fanCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			p.experiments.Apply(fanCtx, roots)
		}()
	}

	if p.metrics != nil {
		p.metrics.RecordCost(totalCost)
	}
	p.record("ok", len(batch), started)
	p.logger.InfoContext(ctx, "batch ingested",
		"tenant", tenant, "spans", len(batch), "roots", len(roots),
		"elapsed", time.Since(started))
	return nil
}

// Drain blocks until in-flight post-response fan-outs finish.
func (p *Pipeline) Drain() { p.fanouts.Wait() }

func (p *Pipeline) record(outcome string, spans int, started time.Time) {
	if p.metrics != nil {
		p.metrics.RecordBatch(outcome, spans, time.Since(started))
	}
}

func (p *Pipeline) reject(reason string) {
	if p.metrics != nil {
		p.metrics.RecordRejection(reason)
	}
}
