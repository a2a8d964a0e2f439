// Package span defines the internal span record, the tagged attribute value
// type, and the stats algebra used by the propagation pipeline.
//
// A Span is created once at ingest and afterwards mutable only through stats
// propagation (stats and child-stats bookkeeping) or explicit marker updates
// (starred, tags). Identity, timing, trace, and parent are immutable once
// written.
package span
