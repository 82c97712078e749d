package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/models"
)

// NotesFile is the reserved per-category notes file name
const NotesFile = "file_notes.json"

// PathResolver maps (category, location) to directories. It never touches
// the filesystem.
type PathResolver struct {
	root            string
	stagingDir      string
	archiveDir      string
	localRoot       string
	ownerSubfolders bool
	categories      *config.CategoryTable
}

// NewPathResolver creates a resolver over the configured storage layout
func NewPathResolver(cfg config.StorageConfig, categories *config.CategoryTable) *PathResolver {
	return &PathResolver{
		root:            filepath.Clean(cfg.Root),
		stagingDir:      cfg.StagingDir,
		archiveDir:      cfg.ArchiveDir,
		localRoot:       filepath.Clean(cfg.LocalMirrorRoot),
		ownerSubfolders: cfg.OwnerSubfolders,
		categories:      categories,
	}
}

// Root returns the storage root
func (r *PathResolver) Root() string {
	return r.root
}

// OwnerSubfolders reports whether primary, archive and local mirror paths are owner-scoped
func (r *PathResolver) OwnerSubfolders() bool {
	return r.ownerSubfolders
}

// Categories returns the category table
func (r *PathResolver) Categories() *config.CategoryTable {
	return r.categories
}

// Resolve returns the directory of category at kind
func (r *PathResolver) Resolve(category string, kind models.LocationKind) (string, error) {
	if _, ok := r.categories.Lookup(category); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	switch kind {
	case models.LocationPrimary:
		return filepath.Join(r.root, category), nil
	case models.LocationStaging:
		return filepath.Join(r.root, r.stagingDir, category), nil
	case models.LocationArchive:
		return filepath.Join(r.root, r.archiveDir, category), nil
	case models.LocationLocalMirror:
		return filepath.Join(r.localRoot, category), nil
	default:
		return "", fmt.Errorf("unknown location kind: %q", kind)
	}
}

// ResolveOwned is Resolve with an owner sub-folder appended when owner
// sub-folders are enabled. Staging is never owner-scoped.
func (r *PathResolver) ResolveOwned(category string, kind models.LocationKind, owner string) (string, error) {
	dir, err := r.Resolve(category, kind)
	if err != nil {
		return "", err
	}

	if !r.ownerSubfolders || kind == models.LocationStaging {
		return dir, nil
	}

	if err := ValidateName(owner); err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	return filepath.Join(dir, owner), nil
}

// ArtifactPath returns the full path of name in category at kind
func (r *PathResolver) ArtifactPath(category string, kind models.LocationKind, owner, name string) (string, error) {
	if err := validateArtifactName(name); err != nil {
		return "", err
	}

	dir, err := r.ResolveOwned(category, kind, owner)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// EntryPath is ArtifactPath for a listed entry. An entry without an owner
// sits directly in the location folder even when owner sub-folders are on.
func (r *PathResolver) EntryPath(category string, kind models.LocationKind, owner, name string) (string, error) {
	if owner != "" || !r.ownerSubfolders {
		return r.ArtifactPath(category, kind, owner, name)
	}
	if err := validateArtifactName(name); err != nil {
		return "", err
	}

	dir, err := r.Resolve(category, kind)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func validateArtifactName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == NotesFile {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	// dot-files are hidden from listings and used for in-flight uploads
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q is a hidden name", ErrInvalidName, name)
	}
	return nil
}

// NotesPath returns the location of the category's notes file
func (r *PathResolver) NotesPath(category string) (string, error) {
	dir, err := r.Resolve(category, models.LocationPrimary)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, NotesFile), nil
}

// LockOwner returns the owner component used in lock keys
func (r *PathResolver) LockOwner(owner string) string {
	if r.ownerSubfolders {
		return owner
	}
	return ""
}

// ValidateName checks that s can be used as a single path element
func ValidateName(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, s)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidName, s)
	}
	return nil
}
