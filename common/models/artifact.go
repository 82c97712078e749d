package models

import (
	"time"
)

// LocationKind names one of the physical folders an artifact can live in
type LocationKind string

const (
	LocationPrimary     LocationKind = "primary"
	LocationStaging     LocationKind = "staging"
	LocationArchive     LocationKind = "archive"
	LocationLocalMirror LocationKind = "local_mirror"
)

// AllLocations lists every location kind in resolution order
var AllLocations = []LocationKind{
	LocationPrimary,
	LocationStaging,
	LocationArchive,
	LocationLocalMirror,
}

// ParseLocation converts a query value into a LocationKind
func ParseLocation(s string) (LocationKind, bool) {
	switch LocationKind(s) {
	case LocationPrimary, LocationStaging, LocationArchive, LocationLocalMirror:
		return LocationKind(s), true
	case "":
		return LocationPrimary, true
	}
	return "", false
}

// ArtifactMeta describes one physical copy of an uploaded file
type ArtifactMeta struct {
	Name     string       `json:"name"`
	Size     int64        `json:"size"`
	ModTime  time.Time    `json:"modified_time"`
	Category string       `json:"category,omitempty"`
	Location LocationKind `json:"location,omitempty"`

	// Owner is the immediate parent folder name; set by recursive listings only
	Owner string `json:"owner,omitempty"`

	// Path is the absolute filesystem path of this copy
	Path string `json:"-"`
}

// HumanSize returns the size formatted for display
func (a ArtifactMeta) HumanSize() string {
	return HumanSize(a.Size)
}

// LocationStatus is the outcome of one location step of a mutating operation
type LocationStatus string

const (
	StatusWritten        LocationStatus = "written"
	StatusCopied         LocationStatus = "copied"
	StatusAlreadyPresent LocationStatus = "already_present"
	StatusMoved          LocationStatus = "moved"
	StatusRemoved        LocationStatus = "removed"
	StatusMissing        LocationStatus = "missing"
	StatusFailed         LocationStatus = "failed"
)

// LocationResult reports what happened at a single location
type LocationResult struct {
	Location LocationKind   `json:"location"`
	Path     string         `json:"path"`
	Status   LocationStatus `json:"status"`
	Error    string         `json:"error,omitempty"`
}

// OK reports whether the step did not fail
func (r LocationResult) OK() bool {
	return r.Status != StatusFailed
}

// StoreResult is returned by a store operation
type StoreResult struct {
	Category  string           `json:"category"`
	Name      string           `json:"name"`
	Owner     string           `json:"owner,omitempty"`
	Size      int64            `json:"size"`
	StoredAt  time.Time        `json:"stored_at"`
	Locations []LocationResult `json:"locations"`

	// FileURL points at the primary copy on the static file server, if one is configured
	FileURL string `json:"file_url,omitempty"`
}

// Partial reports whether any mirror step failed after the primary write succeeded
func (r *StoreResult) Partial() bool {
	for _, l := range r.Locations {
		if !l.OK() {
			return true
		}
	}
	return false
}

// Location returns the result recorded for kind
func (r *StoreResult) Location(kind LocationKind) (LocationResult, bool) {
	return findLocation(r.Locations, kind)
}

// ArchiveResult is returned by an archive operation
type ArchiveResult struct {
	Category  string           `json:"category"`
	Name      string           `json:"name"`
	Locations []LocationResult `json:"locations"`
}

// Location returns the result recorded for kind
func (r *ArchiveResult) Location(kind LocationKind) (LocationResult, bool) {
	return findLocation(r.Locations, kind)
}

// RemoveResult is returned by a remove operation
type RemoveResult struct {
	Category  string           `json:"category"`
	Name      string           `json:"name"`
	Locations []LocationResult `json:"locations"`
}

// Location returns the result recorded for kind
func (r *RemoveResult) Location(kind LocationKind) (LocationResult, bool) {
	return findLocation(r.Locations, kind)
}

// BatchOutcome is the per-name result of a batch archive or remove
type BatchOutcome struct {
	Name      string           `json:"name"`
	OK        bool             `json:"ok"`
	Error     string           `json:"error,omitempty"`
	Locations []LocationResult `json:"locations,omitempty"`
}

func findLocation(results []LocationResult, kind LocationKind) (LocationResult, bool) {
	for _, l := range results {
		if l.Location == kind {
			return l, true
		}
	}
	return LocationResult{}, false
}

// ArtifactView is a listing row: one copy plus where else the same name exists
type ArtifactView struct {
	ArtifactMeta
	HumanSize string         `json:"human_size"`
	Note      string         `json:"note,omitempty"`
	PresentIn []LocationKind `json:"present_in"`
}

// PageInfo describes one page of a listing
type PageInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
