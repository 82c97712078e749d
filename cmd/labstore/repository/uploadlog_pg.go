package repository

import (
	"context"
	"fmt"

	"github.com/repnlab/labstore/common/db"
	"github.com/repnlab/labstore/common/metrics"
	"github.com/repnlab/labstore/common/models"
)

const uploadLogSchema = `
	CREATE TABLE IF NOT EXISTS upload_log (
		id             BIGSERIAL PRIMARY KEY,
		logged_at      TIMESTAMPTZ NOT NULL,
		actor          TEXT NOT NULL,
		category       TEXT NOT NULL,
		filename       TEXT NOT NULL,
		note           TEXT NOT NULL DEFAULT '',
		correlation_id UUID
	);
	CREATE INDEX IF NOT EXISTS upload_log_category_idx ON upload_log (category);
`

// Migrate creates the upload_log table. Safe to run on every start.
func Migrate(ctx context.Context, database *db.DB) error {
	if _, err := database.Exec(ctx, uploadLogSchema); err != nil {
		return fmt.Errorf("failed to migrate upload_log: %w", err)
	}
	return nil
}

// PostgresLog stores upload events in the upload_log table
type PostgresLog struct {
	db      *db.DB
	metrics *metrics.Metrics
}

// NewPostgresLog creates a Postgres-backed upload log
func NewPostgresLog(database *db.DB, m *metrics.Metrics) *PostgresLog {
	return &PostgresLog{db: database, metrics: m}
}

// Append inserts one event
func (r *PostgresLog) Append(ctx context.Context, op models.Op, name, note string) (*models.LogEntry, error) {
	entry := newEntry(op, name, note)

	query := `
		INSERT INTO upload_log (logged_at, actor, category, filename, note, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		entry.Timestamp,
		entry.Actor,
		entry.Category,
		entry.Filename,
		entry.Note,
		op.CorrelationID,
	)
	recordAppend(r.metrics, "postgres", err)
	if err != nil {
		return nil, fmt.Errorf("failed to append upload log: %w", err)
	}

	return &entry, nil
}

// ReadAll returns every event in insertion order
func (r *PostgresLog) ReadAll(ctx context.Context) ([]models.LogEntry, error) {
	query := `
		SELECT logged_at, actor, category, filename, note
		FROM upload_log
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload log: %w", err)
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Actor, &e.Category, &e.Filename, &e.Note); err != nil {
			return nil, fmt.Errorf("failed to scan upload log row: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload log: %w", err)
	}

	return entries, nil
}

// Close is a no-op; the pool is owned by bootstrap
func (r *PostgresLog) Close() error {
	return nil
}
