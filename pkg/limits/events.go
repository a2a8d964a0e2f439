package limits

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// EventLog is the durable, append-only record of admission rejections.
// Rows are written fire-and-forget off the request path and never mutated;
// the retention sweep is the only deleter.
type EventLog struct {
	db         *sql.DB
	appendStmt *sql.Stmt
	pruneStmt  *sql.Stmt
}

// OpenEventLog opens (creating if needed) the event log database at path.
func OpenEventLog(path string) (*EventLog, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		path, int((5 * time.Second).Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS rate_limit_events (
		id          TEXT PRIMARY KEY,
		tenant      TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rle_tenant ON rate_limit_events(tenant, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_rle_occurred ON rate_limit_events(occurred_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}

	log := &EventLog{db: db}
	if log.appendStmt, err = db.Prepare(
		`INSERT INTO rate_limit_events (id, tenant, occurred_at) VALUES (?, ?, ?)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare append: %w", err)
	}
	if log.pruneStmt, err = db.Prepare(
		`DELETE FROM rate_limit_events WHERE occurred_at < ?`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare prune: %w", err)
	}
	return log, nil
}

// Append records one rejection for tenant at the given instant.
func (l *EventLog) Append(ctx context.Context, tenant string, at time.Time) error {
	_, err := l.appendStmt.ExecContext(ctx, uuid.NewString(), tenant, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("append rate-limit event: %w", err)
	}
	return nil
}

// CountSince reports the number of events for tenant at or after since.
func (l *EventLog) CountSince(ctx context.Context, tenant string, since time.Time) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_events WHERE tenant = ? AND occurred_at >= ?`,
		tenant, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rate-limit events: %w", err)
	}
	return n, nil
}

// PruneBefore deletes events older than cutoff and reports how many went.
func (l *EventLog) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.pruneStmt.ExecContext(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune rate-limit events: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (l *EventLog) Close() error {
	if l.appendStmt != nil {
		l.appendStmt.Close()
	}
	if l.pruneStmt != nil {
		l.pruneStmt.Close()
	}
	return l.db.Close()
}
