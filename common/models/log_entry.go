package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Op carries the request-scoped context of a mutating call
type Op struct {
	Category string
	Actor    string

	// Owner selects the owner sub-folder; empty means Actor
	Owner string

	CorrelationID uuid.UUID
}

// FolderOwner returns the owner sub-folder this op acts on
func (o Op) FolderOwner() string {
	if o.Owner != "" {
		return o.Owner
	}
	return o.Actor
}

// NewOp builds an Op with a fresh correlation id
func NewOp(category, actor string) Op {
	return Op{
		Category:      category,
		Actor:         actor,
		CorrelationID: uuid.New(),
	}
}

// LogEntry is one upload event. Entries are never mutated and may name
// artifacts that have since been archived or removed.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"user"`
	Category  string    `json:"category"`
	Filename  string    `json:"filename"`
	Note      string    `json:"note"`
}

// NewestFirst returns a copy of entries sorted by timestamp, newest first.
// Entries with equal timestamps keep their relative order reversed, so the
// later append still comes first.
func NewestFirst(entries []LogEntry) []LogEntry {
	out := make([]LogEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
