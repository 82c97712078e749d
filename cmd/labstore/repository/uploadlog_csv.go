package repository

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
	"github.com/repnlab/labstore/common/models"
)

var csvHeader = []string{"timestamp", "user", "category", "filename", "note"}

// legacy rows written before timestamps were RFC 3339
const legacyTimeLayout = "2006-01-02 15:04:05"

type appendRequest struct {
	record []byte
	result chan error
}

// CSVLog appends upload events to a CSV file. Every append in the process
// goes through one writer goroutine, and each record is written with a
// single write on an O_APPEND descriptor.
type CSVLog struct {
	path    string
	file    *os.File
	metrics *metrics.Metrics
	log     *logger.Logger

	requests chan appendRequest
	closing  chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewCSVLog opens (creating if needed) the log at path and starts its writer
func NewCSVLog(path string, m *metrics.Metrics, log *logger.Logger) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload log directory: %w", err)
	}

	f, err := openLogFile(path)
	if err != nil {
		return nil, err
	}

	l := &CSVLog{
		path:     path,
		file:     f,
		metrics:  m,
		log:      log,
		requests: make(chan appendRequest),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run()

	log.Info("upload log opened", "backend", "csv", "path", path)
	return l, nil
}

// openLogFile opens path for appending and writes the header into an empty file
func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat upload log: %w", err)
	}
	if info.Size() == 0 {
		header, err := encodeRecord(csvHeader)
		if err == nil {
			_, err = f.Write(header)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write upload log header: %w", err)
		}
	}
	return f, nil
}

// Path returns the log file location
func (l *CSVLog) Path() string {
	return l.path
}

func (l *CSVLog) run() {
	defer close(l.done)
	for {
		select {
		case req := <-l.requests:
			req.result <- l.write(req.record)
		case <-l.closing:
			return
		}
	}
}

// write appends one record. The file is reopened first when the path no
// longer names the open descriptor, e.g. after it was deleted or rotated.
func (l *CSVLog) write(record []byte) error {
	if err := l.ensureOpen(); err != nil {
		return err
	}
	if _, err := l.file.Write(record); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *CSVLog) ensureOpen() error {
	current, err := os.Stat(l.path)
	if err == nil {
		open, serr := l.file.Stat()
		if serr == nil && os.SameFile(current, open) {
			return nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat upload log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create upload log directory: %w", err)
	}
	f, err := openLogFile(l.path)
	if err != nil {
		return err
	}
	l.file.Close()
	l.file = f
	l.log.Warn("upload log reopened", "path", l.path)
	return nil
}

// Append encodes the entry and hands it to the writer
func (l *CSVLog) Append(ctx context.Context, op models.Op, name, note string) (*models.LogEntry, error) {
	entry := newEntry(op, name, note)

	record, err := encodeRecord([]string{
		entry.Timestamp.Format(time.RFC3339),
		entry.Actor,
		entry.Category,
		entry.Filename,
		entry.Note,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode log record: %w", err)
	}

	req := appendRequest{record: record, result: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-l.closing:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// once accepted the write is not abandoned
	err = <-req.result
	recordAppend(l.metrics, "csv", err)
	if err != nil {
		l.log.WithContext(ctx).Error("failed to append upload log", "path", l.path, "error", err)
		return nil, fmt.Errorf("failed to append upload log: %w", err)
	}

	l.log.WithContext(ctx).Debug("upload logged",
		"category", entry.Category,
		"filename", entry.Filename,
		"correlation_id", op.CorrelationID,
	)
	return &entry, nil
}

// ReadAll parses the whole file. Rows that cannot be parsed are skipped.
func (l *CSVLog) ReadAll(ctx context.Context) ([]models.LogEntry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.LogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open upload log: %w", err)
	}
	defer f.Close()

	return readEntries(ctx, f, l.log)
}

// Close stops the writer and closes the file
func (l *CSVLog) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closing)
		<-l.done
		err = l.file.Close()
	})
	return err
}

func readEntries(ctx context.Context, r io.Reader, log *logger.Logger) ([]models.LogEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	entries := []models.LogEntry{}
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read upload log: %w", err)
		}
		if line == 1 && len(rec) > 0 && rec[0] == csvHeader[0] {
			continue
		}

		entry, err := parseRecord(rec)
		if err != nil {
			log.Warn("skipping upload log row", "line", line, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRecord(rec []string) (models.LogEntry, error) {
	if len(rec) < 4 {
		return models.LogEntry{}, fmt.Errorf("expected at least 4 fields, got %d", len(rec))
	}

	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		ts, err = time.ParseInLocation(legacyTimeLayout, rec[0], time.Local)
		if err != nil {
			return models.LogEntry{}, fmt.Errorf("invalid timestamp %q", rec[0])
		}
	}

	entry := models.LogEntry{
		Timestamp: ts,
		Actor:     rec[1],
		Category:  rec[2],
		Filename:  rec[3],
	}
	if len(rec) > 4 {
		entry.Note = rec[4]
	}
	return entry, nil
}

func encodeRecord(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
