package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/repnlab/labstore/common/models"
)

const (
	DefaultPageSize = 20
	MinPageSize     = 5
	MaxPageSize     = 100
)

// List returns the regular files directly inside dir, newest first.
// A missing directory yields an empty result; other I/O errors propagate.
func List(dir string) ([]models.ArtifactMeta, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.ArtifactMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	out := make([]models.ArtifactMeta, 0, len(entries))
	for _, e := range entries {
		if hiddenEntry(e.Name()) {
			continue
		}

		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// removed between readdir and stat
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		out = append(out, models.ArtifactMeta{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Path:    filepath.Join(dir, e.Name()),
		})
	}

	sortNewestFirst(out)
	return out, nil
}

// ListRecursive is List over dir and every non-hidden sub-folder. Files in a
// sub-folder carry that folder's name as Owner.
func ListRecursive(dir string) ([]models.ArtifactMeta, error) {
	out := []models.ArtifactMeta{}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		if d.IsDir() {
			if p != dir && hiddenEntry(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if hiddenEntry(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		meta := models.ArtifactMeta{
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Path:    p,
		}
		if parent := filepath.Dir(p); parent != filepath.Clean(dir) {
			meta.Owner = filepath.Base(parent)
		}
		out = append(out, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	sortNewestFirst(out)
	return out, nil
}

// Paginate returns one page of items. Page is 1-based and clamped to the
// available range; size is clamped to [MinPageSize, MaxPageSize] with 0
// meaning DefaultPageSize.
func Paginate[T any](items []T, page, size int) ([]T, models.PageInfo) {
	switch {
	case size == 0:
		size = DefaultPageSize
	case size < MinPageSize:
		size = MinPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}

	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * size
	end := start + size
	if end > total {
		end = total
	}

	return items[start:end], models.PageInfo{
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: pages,
	}
}

// Inventory lists categories through the resolver and cross-references
// the other locations
type Inventory struct {
	paths *PathResolver
}

// NewInventory creates an inventory over the configured layout
func NewInventory(paths *PathResolver) *Inventory {
	return &Inventory{paths: paths}
}

// ListCategory lists one location of a category. With owner sub-folders
// enabled and owner empty, all owners are listed recursively.
func (inv *Inventory) ListCategory(ctx context.Context, category string, kind models.LocationKind, owner string) ([]models.ArtifactMeta, error) {
	var (
		entries []models.ArtifactMeta
		err     error
	)

	if inv.paths.OwnerSubfolders() && owner == "" && kind != models.LocationStaging {
		dir, rerr := inv.paths.Resolve(category, kind)
		if rerr != nil {
			return nil, rerr
		}
		entries, err = ListRecursive(dir)
	} else {
		dir, rerr := inv.paths.ResolveOwned(category, kind, owner)
		if rerr != nil {
			return nil, rerr
		}
		entries, err = List(dir)
		if err == nil && inv.paths.OwnerSubfolders() && kind != models.LocationStaging {
			for i := range entries {
				entries[i].Owner = owner
			}
		}
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Category = category
		entries[i].Location = kind
	}
	return entries, nil
}

// Presence returns a view per entry listing every location that holds the same name
func (inv *Inventory) Presence(ctx context.Context, category string, entries []models.ArtifactMeta) ([]models.ArtifactView, error) {
	views := make([]models.ArtifactView, 0, len(entries))
	for _, e := range entries {
		view := models.ArtifactView{
			ArtifactMeta: e,
			HumanSize:    e.HumanSize(),
			PresentIn:    []models.LocationKind{},
		}

		for _, kind := range models.AllLocations {
			p, err := inv.paths.EntryPath(category, kind, e.Owner, e.Name)
			if err != nil {
				continue
			}
			info, err := os.Stat(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", p, err)
			}
			if info.Mode().IsRegular() {
				view.PresentIn = append(view.PresentIn, kind)
			}
		}

		views = append(views, view)
	}
	return views, nil
}

func sortNewestFirst(entries []models.ArtifactMeta) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
}

// hiddenEntry excludes dot-files, in-flight uploads and the notes file
func hiddenEntry(name string) bool {
	return strings.HasPrefix(name, ".") || name == NotesFile
}
