// Package telemetry groups the service's observability concerns.
//
// # Components
//
//   - logging: structured logging over log/slog with request-id correlation
//   - metrics: Prometheus instrumentation for the ingest pipeline
//   - health: dependency health checks behind /healthz
//
// Each component is independent; the run command wires them together.
package telemetry
