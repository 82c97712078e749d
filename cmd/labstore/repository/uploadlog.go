package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/db"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
	"github.com/repnlab/labstore/common/models"
)

// ErrClosed is returned by Append after Close
var ErrClosed = errors.New("upload log closed")

// UploadLog is the append-only record of upload events. It is never
// rewritten and may mention files that have since been archived or removed.
type UploadLog interface {
	// Append records one upload of name for op and returns the stored entry
	Append(ctx context.Context, op models.Op, name, note string) (*models.LogEntry, error)

	// ReadAll returns every entry in append order, oldest first
	ReadAll(ctx context.Context) ([]models.LogEntry, error)

	Close() error
}

// New creates the upload log selected by cfg.Upload.LogBackend. database is
// only used by the postgres backend.
func New(cfg *config.Config, database *db.DB, m *metrics.Metrics, log *logger.Logger) (UploadLog, error) {
	switch cfg.Upload.LogBackend {
	case "csv":
		return NewCSVLog(cfg.Upload.LogPath, m, log)
	case "postgres":
		if database == nil {
			return nil, fmt.Errorf("postgres upload log requires a database connection")
		}
		return NewPostgresLog(database, m), nil
	case "none":
		return NoopLog{}, nil
	default:
		return nil, fmt.Errorf("unknown upload log backend: %s", cfg.Upload.LogBackend)
	}
}

// NoopLog keeps no history; listings come from directory scans only
type NoopLog struct{}

// Append returns the entry without storing it
func (NoopLog) Append(ctx context.Context, op models.Op, name, note string) (*models.LogEntry, error) {
	entry := newEntry(op, name, note)
	return &entry, nil
}

// ReadAll always returns an empty history
func (NoopLog) ReadAll(ctx context.Context) ([]models.LogEntry, error) {
	return []models.LogEntry{}, nil
}

// Close is a no-op
func (NoopLog) Close() error {
	return nil
}

// newEntry keeps the note as given except that CRLF line breaks become LF,
// which is what encoding/csv hands back when the row is read.
func newEntry(op models.Op, name, note string) models.LogEntry {
	return models.LogEntry{
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Actor:     op.Actor,
		Category:  op.Category,
		Filename:  name,
		Note:      strings.ReplaceAll(note, "\r\n", "\n"),
	}
}

func recordAppend(m *metrics.Metrics, backend string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UploadLogAppends.WithLabelValues(backend, status).Inc()
}
