package service

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/models"
)

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFileAt(t, filepath.Join(dir, "old.xlsx"), "1", base)
	writeFileAt(t, filepath.Join(dir, "new.xlsx"), "22", base.Add(2*time.Hour))
	writeFileAt(t, filepath.Join(dir, "mid.xlsx"), "333", base.Add(time.Hour))

	entries, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"new.xlsx", "mid.xlsx", "old.xlsx"}, names(entries))
	assert.Equal(t, int64(2), entries[0].Size)
	assert.True(t, entries[0].ModTime.Equal(base.Add(2*time.Hour)))
}

func TestListTiesKeepEnumerationOrder(t *testing.T) {
	dir := t.TempDir()
	same := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, n := range []string{"c.xlsx", "a.xlsx", "b.xlsx"} {
		writeFileAt(t, filepath.Join(dir, n), n, same)
	}

	entries, err := List(dir)
	require.NoError(t, err)
	// os.ReadDir enumerates by name
	assert.Equal(t, []string{"a.xlsx", "b.xlsx", "c.xlsx"}, names(entries))
}

func TestListMissingDirectory(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestListSkipsNonArtifacts(t *testing.T) {
	dir := t.TempDir()

	writeFileAt(t, filepath.Join(dir, "keep.xlsx"), "x", time.Time{})
	writeFileAt(t, filepath.Join(dir, NotesFile), "{}", time.Time{})
	writeFileAt(t, filepath.Join(dir, ".keep.xlsx.123.part"), "partial", time.Time{})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subfolder"), 0o755))

	entries, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.xlsx"}, names(entries))
}

func TestListPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	dir := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.Mkdir(dir, 0o000))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	_, err := List(dir)
	assert.Error(t, err)
}

func TestListRecursiveTagsOwner(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFileAt(t, filepath.Join(dir, "E100", "a.xlsx"), "a", base)
	writeFileAt(t, filepath.Join(dir, "E200", "b.xlsx"), "b", base.Add(time.Minute))
	writeFileAt(t, filepath.Join(dir, "top.xlsx"), "t", base.Add(-time.Minute))
	writeFileAt(t, filepath.Join(dir, ".cache", "hidden.xlsx"), "h", base)

	entries, err := ListRecursive(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"b.xlsx", "a.xlsx", "top.xlsx"}, names(entries))
	assert.Equal(t, "E200", entries[0].Owner)
	assert.Equal(t, "E100", entries[1].Owner)
	assert.Empty(t, entries[2].Owner)
}

func TestListRecursiveMissingDirectory(t *testing.T) {
	entries, err := ListRecursive(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreThenListContainsArtifact(t *testing.T) {
	env := newTestEnv(t)

	payloads := map[string]string{
		"empty.xlsx": "",
		"small.xlsx": "s",
		"big.xlsx":   string(make([]byte, 64<<10)),
	}
	for _, category := range env.paths.Categories().Names() {
		for name, body := range payloads {
			env.mustStore(t, category, name, body)
		}

		entries := env.list(t, category, models.LocationPrimary)
		sizes := map[string]int64{}
		for _, e := range entries {
			sizes[e.Name] = e.Size
		}
		for name, body := range payloads {
			assert.Equal(t, int64(len(body)), sizes[name], "%s/%s", category, name)
		}
	}
}

func TestInventoryListCategory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustStore(t, "SBT", "s.xlsx", "sbt")

	entries, err := env.inventory.ListCategory(ctx, "SBT", models.LocationStaging, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SBT", entries[0].Category)
	assert.Equal(t, models.LocationStaging, entries[0].Location)

	_, err = env.inventory.ListCategory(ctx, "NOPE", models.LocationPrimary, "")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestInventoryListCategoryOwnerFilter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.StorageConfig, _ *FileStoreOptions) {
		cfg.OwnerSubfolders = true
	})
	ctx := context.Background()

	_, err := env.store.Store(ctx, models.NewOp("TRH", "E100"), "a.xlsx", stringsReader("a"))
	require.NoError(t, err)
	_, err = env.store.Store(ctx, models.NewOp("TRH", "E200"), "b.xlsx", stringsReader("b"))
	require.NoError(t, err)

	mine, err := env.inventory.ListCategory(ctx, "TRH", models.LocationPrimary, "E100")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a.xlsx", mine[0].Name)
	assert.Equal(t, "E100", mine[0].Owner)

	all, err := env.inventory.ListCategory(ctx, "TRH", models.LocationPrimary, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.xlsx", "b.xlsx"}, names(all))
}

func TestInventoryPresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustStore(t, "TRH", "a.xlsx", "aaaa")
	env.mustStore(t, "TRH", "b.xlsx", "bb")
	_, err := env.store.Archive(ctx, testOp("TRH"), "b.xlsx")
	require.NoError(t, err)
	env.mustStore(t, "TRH", "b.xlsx", "bb2")

	entries, err := env.inventory.ListCategory(ctx, "TRH", models.LocationPrimary, "")
	require.NoError(t, err)

	views, err := env.inventory.Presence(ctx, "TRH", entries)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byName := map[string]models.ArtifactView{}
	for _, v := range views {
		byName[v.Name] = v
	}

	assert.Equal(t, []models.LocationKind{models.LocationPrimary, models.LocationStaging, models.LocationLocalMirror}, byName["a.xlsx"].PresentIn)
	assert.Equal(t, models.AllLocations, byName["b.xlsx"].PresentIn)
	assert.Equal(t, "4.0 B", byName["a.xlsx"].HumanSize)
}

func TestInventoryPresenceUnownedEntry(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.StorageConfig, _ *FileStoreOptions) {
		cfg.OwnerSubfolders = true
	})
	ctx := context.Background()

	writeFileAt(t, filepath.Join(env.dir(t, "TRH", models.LocationPrimary), "loose.xlsx"), "x", time.Time{})
	writeFileAt(t, filepath.Join(env.dir(t, "TRH", models.LocationArchive), "loose.xlsx"), "x", time.Time{})
	_, err := env.store.Store(ctx, models.NewOp("TRH", "E100"), "a.xlsx", stringsReader("a"))
	require.NoError(t, err)

	entries, err := env.inventory.ListCategory(ctx, "TRH", models.LocationPrimary, "")
	require.NoError(t, err)
	views, err := env.inventory.Presence(ctx, "TRH", entries)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byName := map[string]models.ArtifactView{}
	for _, v := range views {
		byName[v.Name] = v
	}
	assert.Empty(t, byName["loose.xlsx"].Owner)
	assert.Equal(t, []models.LocationKind{models.LocationPrimary, models.LocationArchive}, byName["loose.xlsx"].PresentIn)
	assert.Contains(t, byName["a.xlsx"].PresentIn, models.LocationPrimary)
}

func TestPaginate(t *testing.T) {
	items := make([]int, 47)
	for i := range items {
		items[i] = i
	}

	tests := []struct {
		name      string
		page      int
		size      int
		wantFirst int
		wantLen   int
		wantPage  int
		wantSize  int
		wantPages int
	}{
		{"default size", 1, 0, 0, 20, 1, 20, 3},
		{"second page", 2, 20, 20, 20, 2, 20, 3},
		{"last page short", 3, 20, 40, 7, 3, 20, 3},
		{"page past end clamps", 9, 20, 40, 7, 3, 20, 3},
		{"page below one clamps", 0, 10, 0, 10, 1, 10, 5},
		{"size below minimum", 1, 2, 0, 5, 1, 5, 10},
		{"size above maximum", 1, 500, 0, 47, 1, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, info := Paginate(items, tt.page, tt.size)
			require.Len(t, page, tt.wantLen)
			assert.Equal(t, tt.wantFirst, page[0])
			assert.Equal(t, tt.wantPage, info.Page)
			assert.Equal(t, tt.wantSize, info.PageSize)
			assert.Equal(t, tt.wantPages, info.TotalPages)
			assert.Equal(t, 47, info.Total)
		})
	}
}

func TestPaginateEmpty(t *testing.T) {
	page, info := Paginate([]string{}, 3, 20)
	assert.Empty(t, page)
	assert.Equal(t, 1, info.Page)
	assert.Equal(t, 1, info.TotalPages)
	assert.Equal(t, 0, info.Total)
}
