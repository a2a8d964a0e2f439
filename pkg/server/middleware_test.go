package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/winterwell/aiqa/pkg/auth"
	"github.com/winterwell/aiqa/pkg/telemetry/logging"
)

type mapResolver map[string]*auth.KeyRecord

func (m mapResolver) LookupKey(_ context.Context, key string) (*auth.KeyRecord, error) {
	return m[key], nil
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Error("request id not set on context")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Error("response header disagrees with context id")
	}

	// client-provided id is reused
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-id-1" {
		t.Errorf("request id = %q, want client-id-1", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	authenticator := auth.New(mapResolver{
		"sk-ok": {Tenant: "t1", Roles: []string{auth.RoleTrace}},
	})
	var principal *auth.Principal
	h := AuthMiddleware(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = auth.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", nil)
	req.Header.Set("Authorization", "ApiKey sk-ok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if principal == nil || principal.Tenant != "t1" {
		t.Errorf("principal = %+v", principal)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/traces", nil)
	req.Header.Set("Authorization", "ApiKey sk-wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
