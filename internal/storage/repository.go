package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mockdash/internal/core"
	"mockdash/internal/store"

	_ "modernc.org/sqlite"
)

const upsertEntry = `
INSERT INTO kv_entries (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at`

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Get implements store.KV
func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements store.KV
func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, upsertEntry, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Has implements store.KV
func (r *SQLiteRepository) Has(ctx context.Context, key string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM kv_entries WHERE key = ?`, key).Scan(&n); err != nil {
		return false, fmt.Errorf("count %s: %w", key, err)
	}
	return n > 0, nil
}

// SetMany implements store.BatchWriter
func (r *SQLiteRepository) SetMany(ctx context.Context, entries []store.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, upsertEntry, e.Key, e.Value, now); err != nil {
			return fmt.Errorf("upsert %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping implements store.Pinger
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RecordEvent stores a dashboard event. Redelivered events with a known id are ignored.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev core.DashboardEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO dashboard_events
			(id, event_type, profile_id, airtime, commission, masked, batch_size, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.ProfileID, ev.Airtime, ev.Commission, ev.Masked, ev.BatchSize, ev.Timestamp.UTC())
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	slog.DebugContext(ctx, "Dashboard event recorded",
		"id", ev.ID,
		"type", ev.Type,
		"profile_id", ev.ProfileID,
		"inserted", n > 0)

	return n > 0, nil
}

// ListEvents returns the most recent events of a profile, newest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, profileID string, limit int) ([]core.DashboardEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, profile_id, airtime, commission, masked, batch_size, occurred_at
		FROM dashboard_events
		WHERE profile_id = ?
		ORDER BY occurred_at DESC, recorded_at DESC
		LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.DashboardEvent
	for rows.Next() {
		var (
			ev  core.DashboardEvent
			typ string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.ProfileID, &ev.Airtime, &ev.Commission, &ev.Masked, &ev.BatchSize, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = core.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEvents returns the number of recorded events per type.
func (r *SQLiteRepository) CountEvents(ctx context.Context) (map[core.EventType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_type, COUNT(1) FROM dashboard_events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[core.EventType]int64)
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[core.EventType(typ)] = n
	}
	return out, rows.Err()
}
