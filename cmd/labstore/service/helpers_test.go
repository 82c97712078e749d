package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/lock"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/models"
)

type testEnv struct {
	root      string
	cfg       config.StorageConfig
	paths     *PathResolver
	locker    *lock.MemoryLocker
	store     *FileStore
	inventory *Inventory
	notes     *NoteStore
}

func newTestEnv(t *testing.T, mutate ...func(*config.StorageConfig, *FileStoreOptions)) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := config.StorageConfig{
		Root:            root,
		StagingDir:      "Spotfire",
		ArchiveDir:      "archive",
		LocalMirrorRoot: filepath.Join(root, "DOWNLOADS"),
	}
	opts := FileStoreOptions{
		LockTTL:  time.Minute,
		LockWait: time.Second,
	}
	for _, m := range mutate {
		m(&cfg, &opts)
	}

	log := logger.Discard()
	paths := NewPathResolver(cfg, config.DefaultCategories())
	locker := lock.NewMemoryLocker()

	return &testEnv{
		root:      root,
		cfg:       cfg,
		paths:     paths,
		locker:    locker,
		store:     NewFileStore(paths, locker, opts, nil, log),
		inventory: NewInventory(paths),
		notes:     NewNoteStore(paths, locker, time.Minute, time.Second, log),
	}
}

func (e *testEnv) dir(t *testing.T, category string, kind models.LocationKind) string {
	t.Helper()
	d, err := e.paths.Resolve(category, kind)
	require.NoError(t, err)
	return d
}

func (e *testEnv) list(t *testing.T, category string, kind models.LocationKind) []models.ArtifactMeta {
	t.Helper()
	entries, err := List(e.dir(t, category, kind))
	require.NoError(t, err)
	return entries
}

func (e *testEnv) mustStore(t *testing.T, category, name, body string) *models.StoreResult {
	t.Helper()
	res, err := e.store.Store(context.Background(), testOp(category), name, stringsReader(body))
	require.NoError(t, err)
	require.False(t, res.Partial(), "unexpected partial store: %+v", res.Locations)
	return res
}

func testOp(category string) models.Op {
	return models.NewOp(category, "tester")
}

func names(entries []models.ArtifactMeta) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func writeFileAt(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
