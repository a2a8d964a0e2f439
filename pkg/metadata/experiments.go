package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/winterwell/aiqa/pkg/experiments"
)

// GetExperiment fetches one experiment for a tenant. Returns (nil, nil)
// when absent.
func (d *DB) GetExperiment(ctx context.Context, id, tenant string) (*experiments.Experiment, error) {
	var dataset, parameters, results, summaries string
	err := d.db.QueryRowContext(ctx, `
		SELECT dataset, parameters, results, summaries
		FROM experiments WHERE id = ? AND tenant = ?`, id, tenant).
		Scan(&dataset, &parameters, &results, &summaries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("experiment lookup: %w", err)
	}

	exp := &experiments.Experiment{ID: id, Tenant: tenant, Dataset: dataset}
	if err := json.Unmarshal([]byte(parameters), &exp.Parameters); err != nil {
		return nil, fmt.Errorf("experiment %s parameters: %w", id, err)
	}
	if err := json.Unmarshal([]byte(results), &exp.Results); err != nil {
		return nil, fmt.Errorf("experiment %s results: %w", id, err)
	}
	if err := json.Unmarshal([]byte(summaries), &exp.Summaries); err != nil {
		return nil, fmt.Errorf("experiment %s summaries: %w", id, err)
	}
	return exp, nil
}

// PatchExperimentResults overwrites an experiment's results and summaries.
// The result-update flow is the only writer on this path; rows themselves
// are appended by the scoring flow elsewhere.
func (d *DB) PatchExperimentResults(ctx context.Context, exp *experiments.Experiment) error {
	results, err := json.Marshal(exp.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	summaries, err := json.Marshal(exp.Summaries)
	if err != nil {
		return fmt.Errorf("encode summaries: %w", err)
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE experiments SET results = ?, summaries = ?
		WHERE id = ? AND tenant = ?`,
		string(results), string(summaries), exp.ID, exp.Tenant)
	if err != nil {
		return fmt.Errorf("patch experiment %s: %w", exp.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("patch experiment %s: no such row", exp.ID)
	}
	return nil
}

// PutExperiment upserts a whole experiment row, for provisioning and tests.
func (d *DB) PutExperiment(ctx context.Context, exp *experiments.Experiment) error {
	parameters, err := json.Marshal(exp.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	results, err := json.Marshal(exp.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	summaries, err := json.Marshal(exp.Summaries)
	if err != nil {
		return fmt.Errorf("encode summaries: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO experiments (id, tenant, dataset, parameters, results, summaries)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant) DO UPDATE SET
			dataset = excluded.dataset, parameters = excluded.parameters,
			results = excluded.results, summaries = excluded.summaries`,
		exp.ID, exp.Tenant, exp.Dataset, string(parameters), string(results), string(summaries))
	if err != nil {
		return fmt.Errorf("put experiment: %w", err)
	}
	return nil
}
