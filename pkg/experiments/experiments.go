// Package experiments refreshes offline experiment results when trace data
// for them arrives.
//
// An experiment holds one result row per (trace, example) run. When an
// ingested root span carries an experiment id, the row whose trace matches
// gets the root's aggregate statistics merged into its scores, and the
// experiment's summaries are recomputed. The whole flow is best-effort:
// it runs after the ingest response and no failure here reaches the client.
package experiments

import (
	"context"
	"log/slog"

	"github.com/winterwell/aiqa/pkg/span"
)

// Experiment is an offline evaluation run over a dataset.
type Experiment struct {
	ID         string             `json:"id"`
	Dataset    string             `json:"dataset"`
	Tenant     string             `json:"tenant"`
	Parameters map[string]any     `json:"parameters,omitempty"`
	Results    []Result           `json:"results"`
	Summaries  map[string]float64 `json:"summaries,omitempty"`
}

// Result is one scored run within an experiment.
type Result struct {
	Trace   string             `json:"trace"`
	Example string             `json:"example"`
	Scores  map[string]float64 `json:"scores"`
	Errors  *int64             `json:"errors,omitempty"`
}

// Store is the experiment persistence contract the updater consumes.
type Store interface {
	// GetExperiment returns (nil, nil) when the experiment does not exist.
	GetExperiment(ctx context.Context, id, tenant string) (*Experiment, error)
	// PatchExperimentResults persists updated results and summaries.
	PatchExperimentResults(ctx context.Context, exp *Experiment) error
}

// Summarize recomputes an experiment's summary block from its result rows:
// the mean of every score across the rows that carry it, plus a result
// count. Pure; shared with the scoring flow.
func Summarize(results []Result) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range results {
		for k, v := range r.Scores {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums)+1)
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	out["results"] = float64(len(results))
	return out
}

// Updater applies root-span stats to matching experiment rows.
type Updater struct {
	store  Store
	logger *slog.Logger
}

// NewUpdater creates an updater over the given store.
func NewUpdater(store Store, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{store: store, logger: logger.With("component", "experiments")}
}

// Apply processes the roots of one propagation round. For each root tagged
// with an experiment id, the result rows matching the root's trace get every
// differing numeric stat overwritten in their scores; if anything changed,
// summaries are recomputed and the experiment patched. Failures are logged
// and swallowed.
func (u *Updater) Apply(ctx context.Context, roots []*span.Span) {
	for _, root := range roots {
		if root.Experiment == "" {
			continue
		}
		u.applyRoot(ctx, root)
	}
}

func (u *Updater) applyRoot(ctx context.Context, root *span.Span) {
	exp, err := u.store.GetExperiment(ctx, root.Experiment, root.Tenant)
	if err != nil {
		u.logger.Warn("experiment fetch failed",
			"experiment", root.Experiment, "tenant", root.Tenant, "error", err)
		return
	}
	if exp == nil {
		u.logger.Warn("root span references unknown experiment",
			"experiment", root.Experiment, "trace", root.Trace)
		return
	}

	fields := root.Stats.NumericFields()
	if len(fields) == 0 {
		return
	}

	touched := false
	for i := range exp.Results {
		row := &exp.Results[i]
		if row.Trace != root.Trace {
			continue
		}
		if row.Scores == nil {
			row.Scores = make(map[string]float64, len(fields))
		}
		for k, v := range fields {
			if cur, ok := row.Scores[k]; !ok || cur != v {
				row.Scores[k] = v
				touched = true
			}
		}
	}
	if !touched {
		return
	}

	exp.Summaries = Summarize(exp.Results)
	if err := u.store.PatchExperimentResults(ctx, exp); err != nil {
		u.logger.Warn("experiment patch failed",
			"experiment", exp.ID, "tenant", exp.Tenant, "error", err)
	}
}
