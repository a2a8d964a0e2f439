package spanstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/winterwell/aiqa/pkg/span"
)

// fakeES is a minimal Elasticsearch stand-in. It answers the product check
// header the client enforces and dispatches on method+path.
func fakeES(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStore(t *testing.T, srv *httptest.Server) *Elastic {
	t.Helper()
	e, err := NewElastic(srv.URL, "spans", nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestElastic_GetByID(t *testing.T) {
	doc := &span.Span{ID: "0101010101010101", Trace: "a1", Tenant: "t1", Name: "x"}
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/spans/_doc/") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"_source": doc})
	})
	e := newStore(t, srv)

	got, err := e.GetByID(context.Background(), doc.ID, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "x" {
		t.Fatalf("got = %+v", got)
	}

	// wrong tenant filters to not-found
	got, err = e.GetByID(context.Background(), doc.ID, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("cross-tenant read must return nil")
	}
}

func TestElastic_GetByIDNotFound(t *testing.T) {
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"found":false}`))
	})
	e := newStore(t, srv)
	got, err := e.GetByID(context.Background(), "nope", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestElastic_BulkInsertSendsNDJSON(t *testing.T) {
	var lines []string
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_bulk" {
			t.Errorf("path = %s", r.URL.Path)
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read bulk body: %v", err)
		}
		lines = strings.Split(strings.TrimSpace(string(raw)), "\n")
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	})
	e := newStore(t, srv)

	spans := []*span.Span{
		{ID: "01", Trace: "a1", Tenant: "t1"},
		{ID: "02", Trace: "a1", Tenant: "t1"},
	}
	if err := e.BulkInsert(context.Background(), spans); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 4 {
		t.Fatalf("bulk lines = %d, want 4 (meta+doc per span)", len(lines))
	}
	if !strings.Contains(lines[0], `"_id":"01"`) {
		t.Errorf("meta line = %s", lines[0])
	}
}

func TestElastic_ServerErrorIsUnavailable(t *testing.T) {
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	e := newStore(t, srv)
	err := e.BulkInsert(context.Background(), []*span.Span{{ID: "01", Tenant: "t1"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestElastic_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {})
	url := srv.URL
	srv.Close()

	e, err := NewElastic(url, "spans", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.BulkInsert(context.Background(), []*span.Span{{ID: "01"}}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestElastic_SearchDecodesHits(t *testing.T) {
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[
			{"_source":{"id":"01","trace":"a1","tenant":"t1"}},
			{"_source":{"id":"02","trace":"a1","tenant":"t1"}}]}}`))
	})
	e := newStore(t, srv)

	res, err := e.Search(context.Background(), &Query{
		Tenant: "t1",
		Must:   []Clause{Term("trace", "a1")},
		Limit:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || len(res.Hits) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Hits[0].ID != "01" {
		t.Errorf("hit = %+v", res.Hits[0])
	}
}

func TestMarkerPatch(t *testing.T) {
	starred := true
	patch := MarkerPatch(&starred, []string{"triage"})
	if patch["starred"] != true {
		t.Errorf("patch = %v", patch)
	}
	if tags, ok := patch["tags"].([]string); !ok || len(tags) != 1 || tags[0] != "triage" {
		t.Errorf("patch tags = %v", patch["tags"])
	}

	patch = MarkerPatch(nil, nil)
	if len(patch) != 0 {
		t.Errorf("empty marker patch = %v", patch)
	}
}

func TestBuildSearchBody(t *testing.T) {
	q := &Query{
		Tenant:         "t1",
		Must:           []Clause{Term("parent", "01"), Terms("id", []string{"02", "03"})},
		Limit:          1000,
		Offset:         2000,
		Sort:           []Sort{{Field: "start", Desc: true}},
		SourceIncludes: []string{"id", "stats"},
	}
	body := buildSearchBody(q)

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	for _, want := range []string{
		`"term":{"tenant":"t1"}`,
		`"term":{"parent":"01"}`,
		`"terms":{"id":["02","03"]}`,
		`"size":1000`,
		`"from":2000`,
		`"start":{"order":"desc"}`,
		`"includes":["id","stats"]`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("body missing %s: %s", want, s)
		}
	}
}
