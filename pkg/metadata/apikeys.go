package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// KeyRecord is the resolution of an API key: the owning tenant and the
// roles the key grants.
type KeyRecord struct {
	Tenant string
	Roles  []string
}

// LookupKey resolves an API key. Returns (nil, nil) for unknown keys.
func (d *DB) LookupKey(ctx context.Context, key string) (*KeyRecord, error) {
	var tenant, roles string
	err := d.db.QueryRowContext(ctx,
		`SELECT tenant, roles FROM api_keys WHERE key = ?`, key).Scan(&tenant, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api key lookup: %w", err)
	}
	rec := &KeyRecord{Tenant: tenant}
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rec.Roles = append(rec.Roles, r)
		}
	}
	return rec, nil
}

// PutKey upserts an API key row, for provisioning and tests.
func (d *DB) PutKey(ctx context.Context, key, tenant string, roles []string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO api_keys (key, tenant, roles) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET tenant = excluded.tenant, roles = excluded.roles`,
		key, tenant, strings.Join(roles, ","))
	if err != nil {
		return fmt.Errorf("put api key: %w", err)
	}
	return nil
}
