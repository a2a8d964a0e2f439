package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RateLimitPerHour returns the tenant's configured hourly ingest limit, or 0
// when the account is unknown or carries no limit. The admission controller
// substitutes its default in both cases.
func (d *DB) RateLimitPerHour(ctx context.Context, tenant string) (int64, error) {
	var limit int64
	err := d.db.QueryRowContext(ctx,
		`SELECT rate_limit_per_hour FROM tenant_accounts WHERE id = ?`, tenant).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("tenant account lookup: %w", err)
	}
	return limit, nil
}

// PutTenantAccount upserts an account row. Exists for provisioning and
// tests; account management proper is not this service's surface.
func (d *DB) PutTenantAccount(ctx context.Context, tenant string, rateLimitPerHour int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO tenant_accounts (id, rate_limit_per_hour) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET rate_limit_per_hour = excluded.rate_limit_per_hour`,
		tenant, rateLimitPerHour)
	if err != nil {
		return fmt.Errorf("put tenant account: %w", err)
	}
	return nil
}
