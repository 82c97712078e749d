package roster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xuri/excelize/v2"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
)

const (
	idHeader   = "employee #"
	nameHeader = "name"
)

// ErrNoRoster is returned when neither roster path can be read
var ErrNoRoster = errors.New("no roster file found")

// Roster maps employee ids to display names. It is loaded from a
// spreadsheet and reloaded when the file changes or on a fixed interval.
type Roster struct {
	paths    []string
	interval time.Duration
	debounce time.Duration
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu        sync.RWMutex
	employees map[string]string
	source    string
	loadedAt  time.Time

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates an empty roster. Call Start (or Reload) to load it.
func New(cfg config.RosterConfig, m *metrics.Metrics, log *logger.Logger) *Roster {
	paths := []string{cfg.Path}
	if cfg.FallbackPath != "" && cfg.FallbackPath != cfg.Path {
		paths = append(paths, cfg.FallbackPath)
	}

	return &Roster{
		paths:     paths,
		interval:  cfg.ReloadInterval,
		debounce:  500 * time.Millisecond,
		metrics:   m,
		log:       log,
		employees: map[string]string{},
		done:      make(chan struct{}),
	}
}

// Lookup returns the display name of employee id
func (r *Roster) Lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.employees[strings.TrimSpace(id)]
	return name, ok
}

// Len returns the number of loaded employees
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.employees)
}

// Source returns the file the current roster was read from
func (r *Roster) Source() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

// Reload reads the first readable roster path. On failure the previous
// roster is kept.
func (r *Roster) Reload() error {
	var errs []error
	for _, p := range r.paths {
		employees, err := ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}

		r.mu.Lock()
		r.employees = employees
		r.source = p
		r.loadedAt = time.Now()
		r.mu.Unlock()

		if r.metrics != nil {
			r.metrics.RosterEmployees.Set(float64(len(employees)))
		}
		r.log.Debug("roster loaded", "path", p, "employees", len(employees))
		return nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return fmt.Errorf("%w: %s", ErrNoRoster, strings.Join(r.paths, ", "))
}

// Start loads the roster and begins watching it. A missing roster is
// logged, not fatal; logins fail until it appears.
func (r *Roster) Start(ctx context.Context) error {
	if err := r.Reload(); err != nil {
		r.log.Warn("roster not loaded", "error", err)
	} else {
		r.log.Info("roster loaded", "path", r.Source(), "employees", r.Len())
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create roster watcher: %w", err)
	}

	// watch directories so editor rename-over saves are seen
	watched := 0
	for _, p := range r.paths {
		dir := filepath.Dir(p)
		if err := fsw.Add(dir); err != nil {
			r.log.Warn("cannot watch roster directory", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		fsw = nil
	}
	r.fsWatcher = fsw

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (r *Roster) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if r.fsWatcher != nil {
			err = r.fsWatcher.Close()
		}
	})
	return err
}

func (r *Roster) loop(ctx context.Context) {
	defer r.wg.Done()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if r.fsWatcher != nil {
		events = r.fsWatcher.Events
		watchErrs = r.fsWatcher.Errors
	}

	interval := r.interval
	if interval <= 0 {
		interval = time.Minute
	}
	reload := time.NewTicker(interval)
	defer reload.Stop()

	debounce := time.NewTicker(r.debounce)
	defer debounce.Stop()

	var pending time.Time
	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 && r.isRosterPath(event.Name) {
				pending = time.Now()
			}

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.log.Warn("roster watcher error", "error", err)

		case <-debounce.C:
			if !pending.IsZero() && time.Since(pending) >= r.debounce {
				pending = time.Time{}
				r.reloadLogged("file changed")
			}

		case <-reload.C:
			r.reloadLogged("interval")
		}
	}
}

func (r *Roster) reloadLogged(reason string) {
	if err := r.Reload(); err != nil {
		r.log.Warn("roster reload failed", "reason", reason, "error", err)
	}
}

func (r *Roster) isRosterPath(name string) bool {
	name = filepath.Clean(name)
	for _, p := range r.paths {
		if filepath.Clean(p) == name {
			return true
		}
	}
	return false
}

// ReadFile parses the first sheet of the workbook at path
func ReadFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("no worksheet found")
	}

	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheetName, err)
	}
	return ParseRows(rows)
}

// ParseRows finds the header row holding "Employee #" and "Name" and maps
// every following row's id to its name. Rows without an id are skipped.
func ParseRows(rows [][]string) (map[string]string, error) {
	idCol, nameCol, headerRow := -1, -1, -1
	for i, row := range rows {
		idCol, nameCol = -1, -1
		for j, cell := range row {
			switch normalizeHeader(cell) {
			case idHeader:
				idCol = j
			case nameHeader:
				nameCol = j
			}
		}
		if idCol >= 0 && nameCol >= 0 {
			headerRow = i
			break
		}
	}
	if headerRow < 0 {
		return nil, fmt.Errorf("header row with %q and %q not found", "Employee #", "Name")
	}

	employees := make(map[string]string)
	for _, row := range rows[headerRow+1:] {
		id := cellAt(row, idCol)
		if id == "" {
			continue
		}
		employees[id] = cellAt(row, nameCol)
	}
	return employees, nil
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func cellAt(row []string, col int) string {
	if col < len(row) {
		return strings.TrimSpace(row[col])
	}
	return ""
}
