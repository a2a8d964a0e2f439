// Package testutil holds in-memory fakes for the external stores, used by
// package tests across the repository.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/winterwell/aiqa/pkg/span"
	"github.com/winterwell/aiqa/pkg/store/spanstore"
)

// SpanStore is an in-memory spanstore.Store. Documents are deep-copied on
// the way in and out, so tests observe store state, not shared pointers.
type SpanStore struct {
	mu   sync.Mutex
	docs map[string]*span.Span

	// Inserts, Patches, and Searches count operations for assertions.
	Inserts  int
	Patches  int
	Searches int

	// FailBulk, FailPatch, and FailSearch, when set, make the matching
	// operation return that error.
	FailBulk   error
	FailPatch  error
	FailSearch error
}

// NewSpanStore creates an empty fake store.
func NewSpanStore() *SpanStore {
	return &SpanStore{docs: make(map[string]*span.Span)}
}

func clone(s *span.Span) *span.Span {
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("clone span %s: %v", s.ID, err))
	}
	var out span.Span
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("clone span %s: %v", s.ID, err))
	}
	return &out
}

// Seed inserts spans directly, bypassing counters.
func (f *SpanStore) Seed(spans ...*span.Span) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range spans {
		f.docs[s.ID] = clone(s)
	}
}

// Len reports the number of stored documents.
func (f *SpanStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// BulkInsert implements spanstore.Store.
func (f *SpanStore) BulkInsert(_ context.Context, spans []*span.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBulk != nil {
		return f.FailBulk
	}
	f.Inserts++
	for _, s := range spans {
		f.docs[s.ID] = clone(s)
	}
	return nil
}

// GetByID implements spanstore.Store.
func (f *SpanStore) GetByID(_ context.Context, id, tenant string) (*span.Span, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.docs[id]
	if !ok || s.Tenant != tenant {
		return nil, nil
	}
	return clone(s), nil
}

// Search implements spanstore.Store for the clause fields the pipeline
// uses: id, parent, and trace.
func (f *SpanStore) Search(_ context.Context, q *spanstore.Query) (*spanstore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSearch != nil {
		return nil, f.FailSearch
	}
	f.Searches++

	var matched []*span.Span
	for _, s := range f.docs {
		if s.Tenant != q.Tenant {
			continue
		}
		if matchesClauses(s, q.Must) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := &spanstore.Result{Total: total}
	for _, s := range matched {
		out.Hits = append(out.Hits, clone(s))
	}
	return out, nil
}

func matchesClauses(s *span.Span, clauses []spanstore.Clause) bool {
	for _, c := range clauses {
		var field string
		switch c.Field {
		case "id":
			field = s.ID
		case "parent":
			field = s.Parent
		case "trace":
			field = s.Trace
		default:
			return false
		}
		ok := false
		for _, v := range c.Values {
			if field == v {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// UpdatePartial implements spanstore.Store with a JSON merge of the patch
// onto the stored document.
func (f *SpanStore) UpdatePartial(_ context.Context, id, tenant string, patch map[string]any) (*span.Span, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPatch != nil {
		return nil, f.FailPatch
	}
	existing, ok := f.docs[id]
	if !ok || existing.Tenant != tenant {
		return nil, nil
	}
	f.Patches++

	raw, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for k, v := range patch {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var updated span.Span
	if err := json.Unmarshal(merged, &updated); err != nil {
		return nil, err
	}
	f.docs[id] = &updated
	return clone(&updated), nil
}

// DeleteByIDs implements spanstore.Store.
func (f *SpanStore) DeleteByIDs(_ context.Context, tenant string, ids, traces []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	match := func(s *span.Span) bool {
		for _, id := range ids {
			if s.ID == id {
				return true
			}
		}
		for _, tr := range traces {
			if s.Trace == tr {
				return true
			}
		}
		return false
	}
	for id, s := range f.docs {
		if s.Tenant == tenant && match(s) {
			delete(f.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ spanstore.Store = (*SpanStore)(nil)
