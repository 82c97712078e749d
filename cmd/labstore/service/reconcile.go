package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/models"
)

// LogReader is the read side of the upload log
type LogReader interface {
	ReadAll(ctx context.Context) ([]models.LogEntry, error)
}

// LoggedEntry is a log record whose file is no longer at primary
type LoggedEntry struct {
	models.LogEntry
	PresentIn []models.LocationKind `json:"present_in"`
}

// StaleMirror is a staging copy that no longer matches primary
type StaleMirror struct {
	Name    string    `json:"name"`
	Reason  string    `json:"reason"`
	ModTime time.Time `json:"modified_time"`
}

// Report describes how the upload log and the folders disagree for one category.
// Divergence is expected; nothing is repaired.
type Report struct {
	Category      string        `json:"category"`
	GeneratedAt   time.Time     `json:"generated_at"`
	LoggedMissing []LoggedEntry `json:"logged_missing"`
	Unlogged      []string      `json:"unlogged"`
	StaleMirrors  []StaleMirror `json:"stale_mirrors"`
	OrphanNotes   []string      `json:"orphan_notes"`
}

// Clean reports whether no divergence was found
func (r *Report) Clean() bool {
	return len(r.LoggedMissing) == 0 && len(r.Unlogged) == 0 && len(r.StaleMirrors) == 0 && len(r.OrphanNotes) == 0
}

// Reconciler compares the durable log (intent) with the folders (truth)
type Reconciler struct {
	log       LogReader
	inventory *Inventory
	files     *FileStore
	notes     *NoteStore
	logger    *logger.Logger
}

// NewReconciler creates a reconciler. uploads may be nil when no log is kept.
func NewReconciler(uploads LogReader, inventory *Inventory, files *FileStore, notes *NoteStore, log *logger.Logger) *Reconciler {
	return &Reconciler{
		log:       uploads,
		inventory: inventory,
		files:     files,
		notes:     notes,
		logger:    log,
	}
}

// Reconcile builds the divergence report for category
func (r *Reconciler) Reconcile(ctx context.Context, category string) (*Report, error) {
	primary, err := r.inventory.ListCategory(ctx, category, models.LocationPrimary, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list primary: %w", err)
	}
	staging, err := r.inventory.ListCategory(ctx, category, models.LocationStaging, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list staging: %w", err)
	}

	report := &Report{
		Category:      category,
		GeneratedAt:   time.Now().UTC(),
		LoggedMissing: []LoggedEntry{},
		Unlogged:      []string{},
		StaleMirrors:  []StaleMirror{},
		OrphanNotes:   []string{},
	}

	byName := make(map[string]models.ArtifactMeta, len(primary))
	for _, e := range primary {
		// newest wins when owners share a name
		if _, seen := byName[e.Name]; !seen {
			byName[e.Name] = e
		}
	}

	if r.log != nil {
		entries, err := r.log.ReadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read upload log: %w", err)
		}

		logged := make(map[string]bool)
		reported := make(map[string]bool)
		for _, e := range models.NewestFirst(entries) {
			if e.Category != category {
				continue
			}
			logged[e.Filename] = true

			if _, ok := byName[e.Filename]; ok || reported[e.Filename] {
				continue
			}
			reported[e.Filename] = true

			present, err := r.files.ListLocations(ctx, category, e.Actor, e.Filename)
			if err != nil {
				// names that can no longer be resolved are still reported
				present = nil
			}
			if present == nil {
				present = []models.LocationKind{}
			}
			report.LoggedMissing = append(report.LoggedMissing, LoggedEntry{LogEntry: e, PresentIn: present})
		}

		for _, e := range primary {
			if !logged[e.Name] {
				report.Unlogged = append(report.Unlogged, e.Name)
			}
		}
	}

	for _, s := range staging {
		p, ok := byName[s.Name]
		switch {
		case !ok:
			report.StaleMirrors = append(report.StaleMirrors, StaleMirror{Name: s.Name, Reason: "not in primary", ModTime: s.ModTime})
		case p.Size != s.Size:
			report.StaleMirrors = append(report.StaleMirrors, StaleMirror{Name: s.Name, Reason: "size differs from primary", ModTime: s.ModTime})
		case p.ModTime.After(s.ModTime):
			report.StaleMirrors = append(report.StaleMirrors, StaleMirror{Name: s.Name, Reason: "older than primary", ModTime: s.ModTime})
		}
	}

	if r.notes != nil {
		notes, err := r.notes.All(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("failed to read notes: %w", err)
		}
		for name := range notes {
			if _, ok := byName[name]; !ok {
				report.OrphanNotes = append(report.OrphanNotes, name)
			}
		}
		sort.Strings(report.OrphanNotes)
	}

	r.logger.WithContext(ctx).WithCategory(category).Debug("reconciled",
		"logged_missing", len(report.LoggedMissing),
		"unlogged", len(report.Unlogged),
		"stale_mirrors", len(report.StaleMirrors),
		"orphan_notes", len(report.OrphanNotes),
	)

	return report, nil
}
