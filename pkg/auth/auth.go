// Package auth resolves ingest credentials to a tenant principal. Key
// management lives elsewhere; this package only answers "who is calling and
// what may they do".
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roles that grant trace ingestion.
const (
	RoleTrace     = "trace"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

// Authentication failures the transport layer maps to 401 and 403.
var (
	// ErrUnauthenticated means the credential is missing or unknown.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the credential is valid but lacks the role.
	ErrForbidden = errors.New("permission denied")
)

// Principal is an authenticated caller.
type Principal struct {
	Tenant string
	Roles  []string
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanIngest reports whether the principal may export traces.
func (p *Principal) CanIngest() bool {
	return p.HasRole(RoleTrace) || p.HasRole(RoleDeveloper) || p.HasRole(RoleAdmin)
}

// KeyResolver looks up a credential string. Implemented by the metadata
// store; returns (nil, "", nil)-style absence as a nil record.
type KeyResolver interface {
	LookupKey(ctx context.Context, key string) (*KeyRecord, error)
}

// KeyRecord mirrors the metadata store's key resolution.
type KeyRecord struct {
	Tenant string
	Roles  []string
}

// Authenticator resolves an Authorization header to a principal.
type Authenticator struct {
	keys KeyResolver
}

// New creates an authenticator over the given resolver.
func New(keys KeyResolver) *Authenticator {
	return &Authenticator{keys: keys}
}

// Authenticate parses "ApiKey <key>" or "Bearer <token>" and resolves the
// credential. Both schemes resolve through the key store; bearer tokens are
// opaque here.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	credential, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	rec, err := a.keys.LookupKey(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if rec == nil {
		return nil, ErrUnauthenticated
	}
	return &Principal{Tenant: rec.Tenant, Roles: rec.Roles}, nil
}

func parseHeader(header string) (string, error) {
	if header == "" {
		return "", ErrUnauthenticated
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", ErrUnauthenticated
	}
	switch strings.ToLower(parts[0]) {
	case "apikey", "bearer":
		credential := strings.TrimSpace(parts[1])
		if credential == "" {
			return "", ErrUnauthenticated
		}
		return credential, nil
	}
	return "", ErrUnauthenticated
}
