// Package spanstore adapts the full-text document store holding span
// records. Documents are keyed by span id; the tenant is a mandatory filter
// on every operation, so no call can cross tenants.
package spanstore

import (
	"context"
	"errors"

	"github.com/winterwell/aiqa/pkg/span"
)

// ErrUnavailable marks a connection-level store failure. The ingest
// endpoint maps it to 503 / UNAVAILABLE; everything else in the pipeline
// treats it as any other error.
var ErrUnavailable = errors.New("span store unavailable")

// Clause matches a field against one or more values: one value is an
// equality term, several are OR-composed. Clauses on a Query AND together.
type Clause struct {
	Field  string
	Values []string
}

// Term builds a single-value clause.
func Term(field, value string) Clause {
	return Clause{Field: field, Values: []string{value}}
}

// Terms builds an OR clause over values.
func Terms(field string, values []string) Clause {
	return Clause{Field: field, Values: values}
}

// Sort orders results by a field.
type Sort struct {
	Field string
	Desc  bool
}

// Query is a tenant-scoped structured search.
type Query struct {
	Tenant string
	Must   []Clause
	Limit  int
	Offset int
	Sort   []Sort
	// SourceIncludes / SourceExcludes project the returned documents.
	SourceIncludes []string
	SourceExcludes []string
}

// Result is a page of hits plus the total match count.
type Result struct {
	Hits  []*span.Span
	Total int64
}

// Store is the span document store contract.
type Store interface {
	// BulkInsert writes the batch; a span already present under the same id
	// is replaced whole.
	BulkInsert(ctx context.Context, spans []*span.Span) error
	// GetByID fetches one span. Returns (nil, nil) when the id does not
	// exist or belongs to another tenant.
	GetByID(ctx context.Context, id, tenant string) (*span.Span, error)
	// Search runs a structured boolean query.
	Search(ctx context.Context, q *Query) (*Result, error)
	// UpdatePartial merges patch into the document. Returns (nil, nil) when
	// the id does not exist for the tenant.
	UpdatePartial(ctx context.Context, id, tenant string, patch map[string]any) (*span.Span, error)
	// DeleteByIDs removes spans by span ids and/or trace ids, returning the
	// deleted count.
	DeleteByIDs(ctx context.Context, tenant string, ids, traces []string) (int64, error)
}

// MarkerPatch builds the partial-update document for the span fields that
// stay mutable after ingest: the starred flag and the tag list. Nil leaves
// a field untouched.
func MarkerPatch(starred *bool, tags []string) map[string]any {
	patch := make(map[string]any, 2)
	if starred != nil {
		patch["starred"] = *starred
	}
	if tags != nil {
		patch["tags"] = tags
	}
	return patch
}

// StatsProjection is the field set the propagator loads for ancestors: just
// enough to recompute and merge stats.
var StatsProjection = []string{
	"id", "parent", "trace", "tenant", "attributes", "status", "duration_ms",
	"stats", "_childStats",
}
