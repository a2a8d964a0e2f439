package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/winterwell/aiqa/internal/testutil"
	"github.com/winterwell/aiqa/pkg/auth"
	"github.com/winterwell/aiqa/pkg/costs"
	"github.com/winterwell/aiqa/pkg/experiments"
	"github.com/winterwell/aiqa/pkg/limits"
	"github.com/winterwell/aiqa/pkg/pricing"
	"github.com/winterwell/aiqa/pkg/propagate"
	"github.com/winterwell/aiqa/pkg/store/counter"
)

const (
	tenant   = "11111111-2222-3333-4444-555555555555"
	traceID  = "a1a2a3a4a5a6a7a8a9aaabacadaeafab"
	parentID = "0101010101010102"
	childID  = "0909090909091009"
)

const pricingTable = `provider,model,mode,input_per_M,cached_input_per_M,output_per_M
openai,gpt-4o,standard,2.50,1.25,10.00
`

type staticLimits map[string]int64

func (s staticLimits) RateLimitPerHour(_ context.Context, tenant string) (int64, error) {
	return s[tenant], nil
}

type expStore struct {
	exps    map[string]*experiments.Experiment
	patched chan struct{}
}

func (e *expStore) GetExperiment(_ context.Context, id, tnt string) (*experiments.Experiment, error) {
	exp, ok := e.exps[id]
	if !ok || exp.Tenant != tnt {
		return nil, nil
	}
	return exp, nil
}

func (e *expStore) PatchExperimentResults(_ context.Context, exp *experiments.Experiment) error {
	e.exps[exp.ID] = exp
	select {
	case e.patched <- struct{}{}:
	default:
	}
	return nil
}

type fixture struct {
	pipeline *Pipeline
	store    *testutil.SpanStore
	counters *counter.MemoryStore
	exps     *expStore
}

func newFixture(t *testing.T, tenantLimit int64) *fixture {
	t.Helper()
	table, err := pricing.Parse(strings.NewReader(pricingTable))
	if err != nil {
		t.Fatal(err)
	}
	store := testutil.NewSpanStore()
	counters := counter.NewMemoryStore()
	exps := &expStore{
		exps:    make(map[string]*experiments.Experiment),
		patched: make(chan struct{}, 1),
	}
	admission := limits.NewController(counters, staticLimits{tenant: tenantLimit}, nil, nil)
	pipeline := NewPipeline(
		costs.NewAttributor(pricing.NewServiceFromTable(table)),
		admission,
		store,
		propagate.New(store, nil),
		experiments.NewUpdater(exps, nil),
		nil,
		nil,
	)
	return &fixture{pipeline: pipeline, store: store, counters: counters, exps: exps}
}

func principalCtx(r *http.Request) *http.Request {
	p := &auth.Principal{Tenant: tenant, Roles: []string{auth.RoleTrace}}
	return r.WithContext(auth.WithPrincipal(r.Context(), p))
}

func post(t *testing.T, h http.Handler, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/traces", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, principalCtx(req))
	return rec
}

func twoSpanBatch() string {
	return `{"resourceSpans":[{"scopeSpans":[{"spans":[
		{"traceId":"` + traceID + `","spanId":"` + parentID + `","name":"parent",
		 "startTimeUnixNano":1700000000000,"endTimeUnixNano":1700000002000,
		 "status":{"code":1},
		 "attributes":[
			{"key":"model","value":{"stringValue":"gpt-4o"}},
			{"key":"inputTokens","value":{"intValue":"10"}},
			{"key":"outputTokens","value":{"intValue":"20"}}]},
		{"traceId":"` + traceID + `","spanId":"` + childID + `","parentSpanId":"` + parentID + `",
		 "name":"child","startTimeUnixNano":1700000000100,"endTimeUnixNano":1700000001100,
		 "status":{"code":1},
		 "attributes":[
			{"key":"model","value":{"stringValue":"gpt-4o"}},
			{"key":"inputTokens","value":{"intValue":"5"}},
			{"key":"outputTokens","value":{"intValue":"5"}}]}
	]}]}]}`
}

func TestHandler_HappyPathTwoSpanTrace(t *testing.T) {
	fx := newFixture(t, 100)
	h := NewHandler(fx.pipeline)

	rec := post(t, h, twoSpanBatch(), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Errorf("body = %q, want {}", got)
	}

	ctx := context.Background()
	child, err := fx.store.GetByID(ctx, childID, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if child == nil {
		t.Fatal("child not stored")
	}
	if *child.Stats.InputTokens != 5 || *child.Stats.OutputTokens != 5 {
		t.Errorf("child stats = %+v", child.Stats)
	}
	if *child.Stats.Errors != 0 || *child.Stats.Descendants != 0 {
		t.Errorf("child stats = %+v", child.Stats)
	}
	if child.Stats.Cost == nil || *child.Stats.Cost <= 0 {
		t.Error("child cost missing or non-positive")
	}

	parent, _ := fx.store.GetByID(ctx, parentID, tenant)
	if *parent.Stats.InputTokens != 15 || *parent.Stats.OutputTokens != 25 {
		t.Errorf("parent stats = %+v", parent.Stats)
	}
	if *parent.Stats.Descendants != 1 {
		t.Errorf("parent descendants = %d", *parent.Stats.Descendants)
	}
	if !parent.ChildStats[childID].Equal(child.Stats) {
		t.Error("parent child-stats disagree with child stats")
	}
	if parent.Tenant != tenant || child.Tenant != tenant {
		t.Error("tenant not attached to stored spans")
	}

	// per-span usage recorded asynchronously
	waitFor(t, func() bool { return fx.counters.Usage(tenant) == 2 })
}

func TestHandler_EmptyBatch(t *testing.T) {
	fx := newFixture(t, 100)
	h := NewHandler(fx.pipeline)

	rec := post(t, h, `{"resourceSpans":[]}`, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fx.store.Len() != 0 || fx.store.Inserts != 0 {
		t.Error("empty batch must not touch the store")
	}
	if fx.counters.Usage(tenant) != 0 {
		t.Error("empty batch must not record usage")
	}
}

func TestHandler_MalformedProtobuf(t *testing.T) {
	fx := newFixture(t, 100)
	h := NewHandler(fx.pipeline)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader([]byte{0xff, 0x01, 0xaa}))
	req.Header.Set("Content-Type", "application/x-protobuf")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, principalCtx(req))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":3`) {
		t.Errorf("body = %s, want code 3", rec.Body.String())
	}
	if fx.store.Len() != 0 {
		t.Error("malformed request must not store spans")
	}
	if fx.counters.Usage(tenant) != 0 {
		t.Error("malformed request must not record usage")
	}
}

func TestHandler_RateLimited(t *testing.T) {
	fx := newFixture(t, 2)
	h := NewHandler(fx.pipeline)

	for i := 0; i < 2; i++ {
		if rec := post(t, h, twoSpanBatch(), "application/json"); rec.Code != http.StatusOK {
			t.Fatalf("warm-up call %d: status %d", i, rec.Code)
		}
	}
	fx.pipeline.Drain()
	usageBefore := fx.counters.Usage(tenant)
	storedBefore := fx.store.Len()

	rec := post(t, h, twoSpanBatch(), "application/json")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if ra := rec.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Errorf("Retry-After = %q, want positive seconds", ra)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"code":14`) || !strings.Contains(body, "Rate limit exceeded") {
		t.Errorf("body = %s", body)
	}
	if fx.store.Len() != storedBefore {
		t.Error("rejected request stored spans")
	}
	fx.pipeline.Drain()
	if fx.counters.Usage(tenant) != usageBefore {
		t.Error("rejected request recorded usage")
	}
}

func TestHandler_StoreDown(t *testing.T) {
	fx := newFixture(t, 100)
	fx.store.FailBulk = errUnavailableForTest()
	h := NewHandler(fx.pipeline)

	rec := post(t, h, twoSpanBatch(), "application/json")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":14`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandler_RoleRequired(t *testing.T) {
	fx := newFixture(t, 100)
	h := NewHandler(fx.pipeline)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	p := &auth.Principal{Tenant: tenant, Roles: []string{"viewer"}}
	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandler_NoPrincipal(t *testing.T) {
	fx := newFixture(t, 100)
	h := NewHandler(fx.pipeline)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandler_GzipBody(t *testing.T) {
	fx := newFixture(t, 100)
	h := NewHandler(fx.pipeline)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(twoSpanBatch())); err != nil {
		t.Fatal(err)
	}
	gz.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, principalCtx(req))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if fx.store.Len() != 2 {
		t.Errorf("stored = %d, want 2", fx.store.Len())
	}
}

func TestHandler_ExperimentLinkage(t *testing.T) {
	fx := newFixture(t, 100)
	fx.exps.exps["exp-1"] = &experiments.Experiment{
		ID: "exp-1", Tenant: tenant,
		Results: []experiments.Result{
			{Trace: traceID, Example: "ex-1", Scores: map[string]float64{}},
		},
	}
	h := NewHandler(fx.pipeline)

	body := `{"resourceSpans":[{"scopeSpans":[{"spans":[
		{"traceId":"` + traceID + `","spanId":"` + parentID + `","name":"run",
		 "startTimeUnixNano":1700000000000,"endTimeUnixNano":1700000001000,
		 "attributes":[
			{"key":"experiment","value":{"stringValue":"exp-1"}},
			{"key":"inputTokens","value":{"intValue":"10"}},
			{"key":"outputTokens","value":{"intValue":"20"}}]}
	]}]}]}`

	rec := post(t, h, body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	select {
	case <-fx.exps.patched:
	case <-time.After(2 * time.Second):
		t.Fatal("experiment not patched within deadline")
	}
	exp := fx.exps.exps["exp-1"]
	if exp.Results[0].Scores["inputTokens"] != 10 {
		t.Errorf("scores = %v", exp.Results[0].Scores)
	}
	if exp.Summaries["results"] != 1 {
		t.Errorf("summaries = %v", exp.Summaries)
	}
}

func TestGRPC_Export(t *testing.T) {
	fx := newFixture(t, 100)
	svc := NewGRPCService(fx.pipeline)

	ctx := auth.WithPrincipal(context.Background(),
		&auth.Principal{Tenant: tenant, Roles: []string{auth.RoleTrace}})
	resp, err := svc.Export(ctx, grpcRequest())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if resp == nil {
		t.Fatal("nil response")
	}
	if fx.store.Len() != 1 {
		t.Errorf("stored = %d, want 1", fx.store.Len())
	}
}

func TestGRPC_Unauthenticated(t *testing.T) {
	fx := newFixture(t, 100)
	svc := NewGRPCService(fx.pipeline)

	_, err := svc.Export(context.Background(), grpcRequest())
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestGRPC_RateLimitMapsToUnavailable(t *testing.T) {
	fx := newFixture(t, 1)
	svc := NewGRPCService(fx.pipeline)
	ctx := auth.WithPrincipal(context.Background(),
		&auth.Principal{Tenant: tenant, Roles: []string{auth.RoleTrace}})

	if _, err := svc.Export(ctx, grpcRequest()); err != nil {
		t.Fatalf("first export: %v", err)
	}
	_, err := svc.Export(ctx, grpcRequest())
	if status.Code(err) != codes.Unavailable {
		t.Errorf("code = %v, want Unavailable", status.Code(err))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
