// Package propagate assembles span trees across batch boundaries and rolls
// subtree statistics bottom-up.
//
// A batch rarely contains a whole trace: parents may already be stored,
// children may arrive later. Propagation loads missing ancestors, discovers
// already-stored children of batch spans, and recomputes each visited span's
// stats as own-stats plus the per-child bookkeeping map. The per-child map
// is what keeps late arrivals from double counting: a child whose stats are
// already recorded on its parent is never re-expanded, and a fresh recursion
// overwrites exactly that child's entry.
//
// The traversal itself is pure: it produces a patch plan, and mutations are
// applied afterwards — to the in-memory batch spans directly, and to loaded
// spans through individual best-effort store patches.
package propagate

import (
	"context"
	"log/slog"

	"github.com/winterwell/aiqa/pkg/costs"
	"github.com/winterwell/aiqa/pkg/span"
	"github.com/winterwell/aiqa/pkg/store/spanstore"
)

// childPageSize is the page size for stored-children discovery queries.
const childPageSize = 1000

// Propagator rolls stats up span forests.
type Propagator struct {
	store  spanstore.Store
	logger *slog.Logger
	// onPatch, when set, observes each ancestor patch attempt (for metrics).
	onPatch func(ok bool)
}

// New creates a propagator over the given span store.
func New(store spanstore.Store, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{store: store, logger: logger.With("component", "propagate")}
}

// SetPatchObserver registers a callback invoked after every ancestor patch.
func (p *Propagator) SetPatchObserver(fn func(ok bool)) { p.onPatch = fn }

// Propagate fills in stats for the batch and patches every loaded span whose
// stats changed. The batch must share one tenant. The returned slice holds
// the roots of the working forest, which downstream fan-outs (experiment
// updates) consume.
//
// Batch spans are mutated in memory only; persisting them is the caller's
// job. Loaded spans are patched individually; a failed patch is logged and
// skipped, never failing the batch.
func (p *Propagator) Propagate(ctx context.Context, tenant string, batch []*span.Span) []*span.Span {
	if len(batch) == 0 {
		return nil
	}

	w := &workingSet{
		m:       make(map[string]*span.Span, len(batch)),
		inBatch: make(map[string]bool, len(batch)),
	}
	for _, s := range batch {
		w.add(s)
		w.inBatch[s.ID] = true
	}

	p.loadAncestors(ctx, tenant, w)
	p.discoverChildren(ctx, tenant, w)

	roots, children := buildForest(w)

	walk := &walker{
		children: children,
		visited:  make(map[string]bool, len(w.order)),
		logger:   p.logger,
	}
	for _, root := range roots {
		walk.process(root)
	}

	p.apply(ctx, tenant, w, walk.plan)
	return roots
}

// workingSet is the in-memory span universe of one propagation round.
type workingSet struct {
	m       map[string]*span.Span
	order   []*span.Span // insertion order: batch first, then loads
	inBatch map[string]bool
}

func (w *workingSet) add(s *span.Span) {
	if _, ok := w.m[s.ID]; ok {
		return
	}
	w.m[s.ID] = s
	w.order = append(w.order, s)
}

// loadAncestors walks parent pointers out of the working set, loading each
// missing ancestor generation from the store until the frontier empties.
// Parents that do not exist in storage are silently skipped; their children
// become roots of the working forest.
func (p *Propagator) loadAncestors(ctx context.Context, tenant string, w *workingSet) {
	frontier := missingParents(w, w.order)
	for len(frontier) > 0 {
		res, err := p.store.Search(ctx, &spanstore.Query{
			Tenant:         tenant,
			Must:           []spanstore.Clause{spanstore.Terms("id", frontier)},
			Limit:          len(frontier),
			SourceIncludes: spanstore.StatsProjection,
		})
		if err != nil {
			p.logger.Warn("ancestor load failed, propagating without remaining ancestors",
				"tenant", tenant, "error", err)
			return
		}
		loaded := make([]*span.Span, 0, len(res.Hits))
		for _, s := range res.Hits {
			w.add(s)
			loaded = append(loaded, s)
		}
		frontier = missingParents(w, loaded)
	}
}

func missingParents(w *workingSet, spans []*span.Span) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range spans {
		pid := s.Parent
		if pid == "" || seen[pid] {
			continue
		}
		if _, ok := w.m[pid]; ok {
			continue
		}
		seen[pid] = true
		out = append(out, pid)
	}
	return out
}

// discoverChildren pulls already-stored children of batch spans into the
// working set. Expansion is bounded: a child whose stats are already cached
// on its parent's bookkeeping map is skipped whole — the cached subtree
// stats are authoritative, so re-walking it would double count.
func (p *Propagator) discoverChildren(ctx context.Context, tenant string, w *workingSet) {
	queue := make([]string, 0, len(w.inBatch))
	for id := range w.inBatch {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		parent := w.m[parentID]

		for offset := 0; ; offset += childPageSize {
			res, err := p.store.Search(ctx, &spanstore.Query{
				Tenant:         tenant,
				Must:           []spanstore.Clause{spanstore.Term("parent", parentID)},
				Limit:          childPageSize,
				Offset:         offset,
				SourceIncludes: spanstore.StatsProjection,
			})
			if err != nil {
				p.logger.Warn("child discovery failed, continuing with known spans",
					"tenant", tenant, "parent", parentID, "error", err)
				return
			}
			for _, c := range res.Hits {
				if _, cached := parent.ChildStats[c.ID]; cached {
					continue
				}
				if _, known := w.m[c.ID]; known {
					continue
				}
				w.add(c)
				queue = append(queue, c.ID)
			}
			if len(res.Hits) < childPageSize {
				break
			}
		}
	}
}

// buildForest splits the working set into roots and a children index. A span
// whose parent is absent from the working set roots its own subtree — true
// roots and loaded ancestors whose own parents were not loaded both land
// here.
func buildForest(w *workingSet) (roots []*span.Span, children map[string][]*span.Span) {
	children = make(map[string][]*span.Span)
	for _, s := range w.order {
		if s.Parent == "" {
			roots = append(roots, s)
			continue
		}
		if _, ok := w.m[s.Parent]; !ok {
			roots = append(roots, s)
			continue
		}
		children[s.Parent] = append(children[s.Parent], s)
	}
	return roots, children
}

// patch is one planned mutation: the recomputed aggregate for a span.
type patch struct {
	span       *span.Span
	stats      *span.Stats
	childStats map[string]*span.Stats
}

type walker struct {
	children map[string][]*span.Span
	visited  map[string]bool
	logger   *slog.Logger
	plan     []patch
}

// process computes the subtree stats for s depth-first and returns them.
func (wk *walker) process(s *span.Span) *span.Stats {
	if wk.visited[s.ID] {
		wk.logger.Warn("cycle or duplicate span in working forest", "span", s.ID, "trace", s.Trace)
		return ownStats(s)
	}
	wk.visited[s.ID] = true

	own := ownStats(s)

	childStats := make(map[string]*span.Stats, len(s.ChildStats)+len(wk.children[s.ID]))
	for id, cs := range s.ChildStats {
		childStats[id] = cs
	}
	for _, c := range wk.children[s.ID] {
		childStats[c.ID] = wk.process(c)
	}

	total := own
	var childDescendants int64
	for _, cs := range childStats {
		total = total.Merge(cs)
		if cs != nil && cs.Descendants != nil {
			childDescendants += *cs.Descendants
		}
	}
	// Errors frequently bubble up through re-thrown exceptions: a failing
	// child makes its parent fail too. When this span errored and children
	// already contributed errors, one of them is the same failure.
	if s.Status.Code == span.StatusError && total.Errors != nil && *total.Errors > 1 {
		total.Errors = span.Int(*total.Errors - 1)
	}
	total.Descendants = span.Int(childDescendants + int64(len(childStats)))

	if !total.Equal(s.Stats) {
		wk.plan = append(wk.plan, patch{span: s, stats: total, childStats: childStats})
	}
	return total
}

// ownStats derives a span's standalone statistics: token usage under the
// cost-attribution resolution rule, the attributed cost, an error bit from
// the status, and the span duration.
func ownStats(s *span.Span) *span.Stats {
	usage := costs.ReadUsage(s).Resolve()
	st := &span.Stats{
		InputTokens:       usage.Input,
		OutputTokens:      usage.Output,
		CachedInputTokens: usage.CachedInput,
		TotalTokens:       usage.Total,
		Duration:          span.Int(s.DurationMS),
	}
	if v, ok := s.Attr(costs.AttrCostUSD); ok {
		if f, numeric := v.AsFloat(); numeric {
			st.Cost = span.Float(f)
		}
	}
	if s.Status.Code == span.StatusError {
		st.Errors = span.Int(1)
	} else {
		st.Errors = span.Int(0)
	}
	return st
}

// apply materialises the patch plan: every planned span gets its new stats
// in memory, and spans that came from the store are patched there too.
func (p *Propagator) apply(ctx context.Context, tenant string, w *workingSet, plan []patch) {
	for _, pt := range plan {
		pt.span.Stats = pt.stats
		pt.span.ChildStats = pt.childStats
		if len(pt.span.ChildStats) == 0 {
			pt.span.ChildStats = nil
		}

		if w.inBatch[pt.span.ID] {
			continue // the endpoint bulk-writes batch spans afterwards
		}
		_, err := p.store.UpdatePartial(ctx, pt.span.ID, tenant, map[string]any{
			"stats":       pt.span.Stats,
			"_childStats": pt.span.ChildStats,
		})
		if p.onPatch != nil {
			p.onPatch(err == nil)
		}
		if err != nil {
			p.logger.Warn("ancestor patch failed, skipping",
				"tenant", tenant, "span", pt.span.ID, "error", err)
		}
	}
}
