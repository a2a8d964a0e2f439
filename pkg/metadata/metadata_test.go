package metadata

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/winterwell/aiqa/pkg/experiments"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRateLimitPerHour(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.PutTenantAccount(ctx, "t1", 250); err != nil {
		t.Fatal(err)
	}
	limit, err := db.RateLimitPerHour(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if limit != 250 {
		t.Errorf("limit = %d, want 250", limit)
	}

	limit, err = db.RateLimitPerHour(ctx, "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if limit != 0 {
		t.Errorf("unknown tenant limit = %d, want 0", limit)
	}
}

func TestLookupKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.PutKey(ctx, "sk-abc", "t1", []string{"trace", "developer"}); err != nil {
		t.Fatal(err)
	}

	rec, err := db.LookupKey(ctx, "sk-abc")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Tenant != "t1" {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Roles) != 2 || rec.Roles[0] != "trace" {
		t.Errorf("roles = %v", rec.Roles)
	}

	rec, err = db.LookupKey(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("missing key resolved to %+v", rec)
	}
}

func TestExperimentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exp := &experiments.Experiment{
		ID: "exp-1", Tenant: "t1", Dataset: "ds-1",
		Parameters: map[string]any{"model": "gpt-4o"},
		Results: []experiments.Result{
			{Trace: "tr-1", Example: "ex-1", Scores: map[string]float64{"cost": 0.5}},
		},
		Summaries: map[string]float64{"cost": 0.5},
	}
	if err := db.PutExperiment(ctx, exp); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetExperiment(ctx, "exp-1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("experiment not found")
	}
	if got.Dataset != "ds-1" || len(got.Results) != 1 || got.Results[0].Scores["cost"] != 0.5 {
		t.Errorf("round trip = %+v", got)
	}

	// tenant scoping
	if other, _ := db.GetExperiment(ctx, "exp-1", "t2"); other != nil {
		t.Error("experiment visible to wrong tenant")
	}
}

func TestPatchExperimentResults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exp := &experiments.Experiment{
		ID: "exp-1", Tenant: "t1",
		Results: []experiments.Result{{Trace: "tr-1", Scores: map[string]float64{}}},
	}
	if err := db.PutExperiment(ctx, exp); err != nil {
		t.Fatal(err)
	}

	exp.Results[0].Scores["inputTokens"] = 15
	exp.Summaries = map[string]float64{"inputTokens": 15, "results": 1}
	if err := db.PatchExperimentResults(ctx, exp); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetExperiment(ctx, "exp-1", "t1")
	if got.Results[0].Scores["inputTokens"] != 15 {
		t.Errorf("patched scores = %v", got.Results[0].Scores)
	}
	if got.Summaries["results"] != 1 {
		t.Errorf("patched summaries = %v", got.Summaries)
	}

	missing := &experiments.Experiment{ID: "nope", Tenant: "t1"}
	if err := db.PatchExperimentResults(ctx, missing); err == nil {
		t.Error("patching a missing experiment should fail")
	}
}
