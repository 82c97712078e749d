package service

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/models"
)

func TestResolveLayout(t *testing.T) {
	paths := NewPathResolver(config.StorageConfig{
		Root:            "/srv/PN-RE-LAB",
		StagingDir:      "Spotfire",
		ArchiveDir:      "archive",
		LocalMirrorRoot: "/home/lab/DOWNLOADS",
	}, config.DefaultCategories())

	tests := []struct {
		kind models.LocationKind
		want string
	}{
		{models.LocationPrimary, "/srv/PN-RE-LAB/HEAD WEAR"},
		{models.LocationStaging, "/srv/PN-RE-LAB/Spotfire/HEAD WEAR"},
		{models.LocationArchive, "/srv/PN-RE-LAB/archive/HEAD WEAR"},
		{models.LocationLocalMirror, "/home/lab/DOWNLOADS/HEAD WEAR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := paths.Resolve("HEAD WEAR", tt.kind)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)

			again, err := paths.Resolve("HEAD WEAR", tt.kind)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestResolveUnknownCategory(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.paths.Resolve("NOPE", models.LocationPrimary)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestResolveDoesNotTouchFilesystem(t *testing.T) {
	env := newTestEnv(t)

	for _, kind := range models.AllLocations {
		_, err := env.paths.Resolve("TRH", kind)
		require.NoError(t, err)
	}

	entries, err := filepath.Glob(filepath.Join(env.root, "*"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolveUnknownKind(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.paths.Resolve("TRH", models.LocationKind("attic"))
	assert.Error(t, err)
}

func TestResolveOwned(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.StorageConfig, _ *FileStoreOptions) {
		cfg.OwnerSubfolders = true
	})

	primary, err := env.paths.ResolveOwned("TRH", models.LocationPrimary, "E123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "TRH", "E123"), primary)

	staging, err := env.paths.ResolveOwned("TRH", models.LocationStaging, "E123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "Spotfire", "TRH"), staging)

	_, err = env.paths.ResolveOwned("TRH", models.LocationPrimary, "")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = env.paths.ResolveOwned("TRH", models.LocationPrimary, "../x")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestResolveOwnedIgnoresOwnerWhenDisabled(t *testing.T) {
	env := newTestEnv(t)

	primary, err := env.paths.ResolveOwned("TRH", models.LocationPrimary, "E123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "TRH"), primary)
}

func TestEntryPath(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.StorageConfig, _ *FileStoreOptions) {
		cfg.OwnerSubfolders = true
	})

	owned, err := env.paths.EntryPath("TRH", models.LocationArchive, "E123", "a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "archive", "TRH", "E123", "a.xlsx"), owned)

	loose, err := env.paths.EntryPath("TRH", models.LocationPrimary, "", "a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "TRH", "a.xlsx"), loose)

	_, err = env.paths.EntryPath("TRH", models.LocationPrimary, "", NotesFile)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestArtifactPathRejectsBadNames(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"", " ", ".", "..", "a/b.xlsx", `a\b.xlsx`, NotesFile, ".hidden.xlsx"} {
		t.Run(name, func(t *testing.T) {
			_, err := env.paths.ArtifactPath("TRH", models.LocationPrimary, "", name)
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}

	p, err := env.paths.ArtifactPath("TRH", models.LocationPrimary, "", "run 1.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "TRH", "run 1.xlsx"), p)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("E123"))
	assert.ErrorIs(t, ValidateName("a\x00b"), ErrInvalidName)
}
