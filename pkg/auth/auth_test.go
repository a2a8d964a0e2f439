package auth

import (
	"context"
	"errors"
	"testing"
)

type mapResolver map[string]*KeyRecord

func (m mapResolver) LookupKey(_ context.Context, key string) (*KeyRecord, error) {
	return m[key], nil
}

func TestAuthenticate_Schemes(t *testing.T) {
	a := New(mapResolver{
		"sk-valid": {Tenant: "t1", Roles: []string{RoleTrace}},
	})
	ctx := context.Background()

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"apikey scheme", "ApiKey sk-valid", true},
		{"bearer scheme", "Bearer sk-valid", true},
		{"case-insensitive scheme", "apikey sk-valid", true},
		{"missing header", "", false},
		{"unknown key", "ApiKey sk-wrong", false},
		{"bad scheme", "Basic sk-valid", false},
		{"no credential", "ApiKey ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := a.Authenticate(ctx, tt.header)
			if tt.ok {
				if err != nil {
					t.Fatalf("authenticate: %v", err)
				}
				if p.Tenant != "t1" {
					t.Errorf("tenant = %q", p.Tenant)
				}
				return
			}
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestPrincipal_CanIngest(t *testing.T) {
	tests := []struct {
		roles []string
		want  bool
	}{
		{[]string{RoleTrace}, true},
		{[]string{RoleDeveloper}, true},
		{[]string{RoleAdmin}, true},
		{[]string{"viewer"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		p := &Principal{Tenant: "t1", Roles: tt.roles}
		if got := p.CanIngest(); got != tt.want {
			t.Errorf("CanIngest(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}
