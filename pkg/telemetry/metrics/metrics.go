// Package metrics exposes the service's Prometheus instrumentation.
//
// Metrics:
//   - aiqa_ingest_batches_total{outcome}: export calls by final outcome
//   - aiqa_ingest_spans_total: spans accepted for persistence
//   - aiqa_ingest_rejections_total{reason}: refused calls by reason
//   - aiqa_ingest_duration_seconds: end-to-end pipeline latency
//   - aiqa_cost_attributed_usd_total: attributed span cost
//   - aiqa_propagation_patches_total{status}: ancestor patch attempts
//   - aiqa_store_request_duration_seconds{op}: span-store latency by call
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the service's metric instruments.
type Collector struct {
	batches       *prometheus.CounterVec
	spans         prometheus.Counter
	rejections    *prometheus.CounterVec
	ingestSeconds prometheus.Histogram
	costUSD       prometheus.Counter
	patches       *prometheus.CounterVec
	storeSeconds  *prometheus.HistogramVec
}

// NewCollector creates and registers the instruments on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiqa_ingest_batches_total",
			Help: "Export calls by final outcome.",
		}, []string{"outcome"}),
		spans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiqa_ingest_spans_total",
			Help: "Spans accepted for persistence.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiqa_ingest_rejections_total",
			Help: "Refused export calls by reason.",
		}, []string{"reason"}),
		ingestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aiqa_ingest_duration_seconds",
			Help:    "End-to-end ingest pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiqa_cost_attributed_usd_total",
			Help: "Total USD cost attributed to ingested spans.",
		}),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiqa_propagation_patches_total",
			Help: "Ancestor patch attempts by status.",
		}, []string{"status"}),
		storeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aiqa_store_request_duration_seconds",
			Help:    "Span store request latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(c.batches, c.spans, c.rejections, c.ingestSeconds,
		c.costUSD, c.patches, c.storeSeconds)
	return c
}

// RecordBatch records one completed export call.
func (c *Collector) RecordBatch(outcome string, spans int, elapsed time.Duration) {
	c.batches.WithLabelValues(outcome).Inc()
	if spans > 0 {
		c.spans.Add(float64(spans))
	}
	c.ingestSeconds.Observe(elapsed.Seconds())
}

// RecordRejection records a refused export call.
func (c *Collector) RecordRejection(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

// RecordCost records attributed cost.
func (c *Collector) RecordCost(usd float64) {
	if usd > 0 {
		c.costUSD.Add(usd)
	}
}

// RecordPatch records one ancestor patch attempt.
func (c *Collector) RecordPatch(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	c.patches.WithLabelValues(status).Inc()
}

// ObserveStore records one span-store request.
func (c *Collector) ObserveStore(op string, elapsed time.Duration) {
	c.storeSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}
