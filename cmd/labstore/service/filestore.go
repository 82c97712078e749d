package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/repnlab/labstore/common/lock"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
	"github.com/repnlab/labstore/common/models"
)

// FileStoreOptions tunes locking and remove behaviour
type FileStoreOptions struct {
	LockTTL       time.Duration
	LockWait      time.Duration
	RemoveCascade bool // remove also deletes staging and local mirror copies
}

// FileStore owns every write to the primary, staging, archive and local
// mirror folders. Operations are not transactional across locations; each
// attempted location is reported individually.
type FileStore struct {
	paths   *PathResolver
	locker  lock.Locker
	opts    FileStoreOptions
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewFileStore creates a file store. m may be nil.
func NewFileStore(paths *PathResolver, locker lock.Locker, opts FileStoreOptions, m *metrics.Metrics, log *logger.Logger) *FileStore {
	return &FileStore{
		paths:   paths,
		locker:  locker,
		opts:    opts,
		metrics: m,
		log:     log,
	}
}

// Paths returns the resolver used by the store
func (s *FileStore) Paths() *PathResolver {
	return s.paths
}

// Store writes body to the primary location, then mirrors the written file
// to staging and the local mirror. A failed primary write returns a
// *WriteFailedError together with the result; a failed mirror copy leaves
// the primary in place and is only visible through result.Partial().
func (s *FileStore) Store(ctx context.Context, op models.Op, name string, body io.Reader) (*models.StoreResult, error) {
	defer s.observe("store", time.Now())

	owner := op.FolderOwner()
	primary, err := s.paths.ArtifactPath(op.Category, models.LocationPrimary, owner, name)
	if err != nil {
		return nil, err
	}
	staging, err := s.paths.ArtifactPath(op.Category, models.LocationStaging, owner, name)
	if err != nil {
		return nil, err
	}
	local, err := s.paths.ArtifactPath(op.Category, models.LocationLocalMirror, owner, name)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, op.Category, owner, name)
	if err != nil {
		return nil, err
	}
	defer release()

	log := s.log.WithContext(ctx).WithCategory(op.Category).WithActor(op.Actor)

	result := &models.StoreResult{
		Category: op.Category,
		Name:     name,
	}
	if s.paths.OwnerSubfolders() {
		result.Owner = owner
	}

	written, err := writeFile(primary, body)
	if err != nil {
		result.Locations = append(result.Locations, s.failed("store", models.LocationPrimary, primary, err))
		log.Warn("primary write failed", "name", name, "path", primary, "error", err)
		return result, &WriteFailedError{Path: primary, Err: err}
	}

	result.Size = written
	result.StoredAt = time.Now()
	if info, err := os.Stat(primary); err == nil {
		result.StoredAt = info.ModTime()
	}
	result.Locations = append(result.Locations, s.ok("store", models.LocationPrimary, primary, models.StatusWritten))

	if s.metrics != nil {
		s.metrics.UploadedBytes.WithLabelValues(op.Category).Add(float64(written))
	}

	result.Locations = append(result.Locations,
		s.mirror(primary, models.LocationStaging, staging),
		s.mirror(primary, models.LocationLocalMirror, local),
	)

	if result.Partial() {
		log.Warn("stored with mirror failures",
			"name", name,
			"size", written,
			"locations", result.Locations,
			"correlation_id", op.CorrelationID,
		)
	} else {
		log.Info("stored artifact",
			"name", name,
			"size", written,
			"correlation_id", op.CorrelationID,
		)
	}

	return result, nil
}

// Archive moves the primary copy into the archive folder. Staging and local
// mirror copies are left where they are.
func (s *FileStore) Archive(ctx context.Context, op models.Op, name string) (*models.ArchiveResult, error) {
	defer s.observe("archive", time.Now())

	owner := op.FolderOwner()
	src, err := s.paths.ArtifactPath(op.Category, models.LocationPrimary, owner, name)
	if err != nil {
		return nil, err
	}
	dst, err := s.paths.ArtifactPath(op.Category, models.LocationArchive, owner, name)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, op.Category, owner, name)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireFile(src); err != nil {
		return nil, fmt.Errorf("archive %s/%s: %w", op.Category, name, err)
	}

	result := &models.ArchiveResult{
		Category: op.Category,
		Name:     name,
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		result.Locations = append(result.Locations, s.failed("archive", models.LocationArchive, dst, err))
		return result, fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := moveFile(src, dst); err != nil {
		result.Locations = append(result.Locations, s.failed("archive", models.LocationArchive, dst, err))
		return result, fmt.Errorf("failed to archive %s: %w", name, err)
	}

	result.Locations = append(result.Locations,
		s.ok("archive", models.LocationPrimary, src, models.StatusRemoved),
		s.ok("archive", models.LocationArchive, dst, models.StatusMoved),
	)

	s.log.WithContext(ctx).WithCategory(op.Category).WithActor(op.Actor).Info("archived artifact",
		"name", name,
		"archive_path", dst,
		"correlation_id", op.CorrelationID,
	)

	return result, nil
}

// Remove deletes the primary copy. With RemoveCascade the staging and local
// mirror copies are deleted too, each reported on its own.
func (s *FileStore) Remove(ctx context.Context, op models.Op, name string) (*models.RemoveResult, error) {
	defer s.observe("remove", time.Now())

	owner := op.FolderOwner()
	primary, err := s.paths.ArtifactPath(op.Category, models.LocationPrimary, owner, name)
	if err != nil {
		return nil, err
	}

	var mirrors []target
	if s.opts.RemoveCascade {
		for _, kind := range []models.LocationKind{models.LocationStaging, models.LocationLocalMirror} {
			p, err := s.paths.ArtifactPath(op.Category, kind, owner, name)
			if err != nil {
				return nil, err
			}
			mirrors = append(mirrors, target{kind: kind, path: p})
		}
	}

	release, err := s.lock(ctx, op.Category, owner, name)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireFile(primary); err != nil {
		return nil, fmt.Errorf("remove %s/%s: %w", op.Category, name, err)
	}

	result := &models.RemoveResult{
		Category: op.Category,
		Name:     name,
	}

	if err := os.Remove(primary); err != nil {
		result.Locations = append(result.Locations, s.failed("remove", models.LocationPrimary, primary, err))
		return result, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	result.Locations = append(result.Locations, s.ok("remove", models.LocationPrimary, primary, models.StatusRemoved))

	for _, m := range mirrors {
		err := os.Remove(m.path)
		switch {
		case err == nil:
			result.Locations = append(result.Locations, s.ok("remove", m.kind, m.path, models.StatusRemoved))
		case errors.Is(err, fs.ErrNotExist):
			result.Locations = append(result.Locations, s.ok("remove", m.kind, m.path, models.StatusMissing))
		default:
			result.Locations = append(result.Locations, s.failed("remove", m.kind, m.path, err))
		}
	}

	s.log.WithContext(ctx).WithCategory(op.Category).WithActor(op.Actor).Info("removed artifact",
		"name", name,
		"cascade", s.opts.RemoveCascade,
		"correlation_id", op.CorrelationID,
	)

	return result, nil
}

// ArchiveBatch archives each name independently
func (s *FileStore) ArchiveBatch(ctx context.Context, op models.Op, names []string) []models.BatchOutcome {
	return s.batch(ctx, names, func(name string) ([]models.LocationResult, error) {
		res, err := s.Archive(ctx, op, name)
		if res != nil {
			return res.Locations, err
		}
		return nil, err
	})
}

// RemoveBatch removes each name independently
func (s *FileStore) RemoveBatch(ctx context.Context, op models.Op, names []string) []models.BatchOutcome {
	return s.batch(ctx, names, func(name string) ([]models.LocationResult, error) {
		res, err := s.Remove(ctx, op, name)
		if res != nil {
			return res.Locations, err
		}
		return nil, err
	})
}

func (s *FileStore) batch(ctx context.Context, names []string, fn func(string) ([]models.LocationResult, error)) []models.BatchOutcome {
	outcomes := make([]models.BatchOutcome, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, models.BatchOutcome{Name: name, Error: err.Error()})
			continue
		}

		locations, err := fn(name)
		outcome := models.BatchOutcome{Name: name, OK: err == nil, Locations: locations}
		if err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// ListLocations reports which locations currently hold a regular file
// called name. Only existence is checked, not content.
func (s *FileStore) ListLocations(ctx context.Context, category, owner, name string) ([]models.LocationKind, error) {
	var present []models.LocationKind
	for _, kind := range models.AllLocations {
		p, err := s.paths.ArtifactPath(category, kind, owner, name)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.Mode().IsRegular() {
			present = append(present, kind)
		}
	}
	return present, nil
}

// Open opens one copy for reading. The caller closes the file.
func (s *FileStore) Open(ctx context.Context, category string, kind models.LocationKind, owner, name string) (*os.File, models.ArtifactMeta, error) {
	p, err := s.paths.ArtifactPath(category, kind, owner, name)
	if err != nil {
		return nil, models.ArtifactMeta{}, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ArtifactMeta{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, models.ArtifactMeta{}, fmt.Errorf("failed to open %s: %w", p, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, models.ArtifactMeta{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, models.ArtifactMeta{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return f, models.ArtifactMeta{
		Name:     name,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Category: category,
		Location: kind,
		Path:     p,
	}, nil
}

type target struct {
	kind models.LocationKind
	path string
}

func (s *FileStore) lock(ctx context.Context, category, owner, name string) (func(), error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, lock.Key(category, s.paths.LockOwner(owner), name), s.opts.LockTTL, s.opts.LockWait)
	if err != nil {
		s.observeLock("timeout", start)
		if errors.Is(err, lock.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBusy, category, name)
		}
		return nil, fmt.Errorf("failed to lock %s/%s: %w", category, name, err)
	}
	s.observeLock("acquired", start)
	return release, nil
}

func (s *FileStore) mirror(src string, kind models.LocationKind, dst string) models.LocationResult {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return s.failed("store", kind, dst, err)
	}

	if sameFile(src, dst) {
		return s.ok("store", kind, dst, models.StatusAlreadyPresent)
	}

	if err := copyFile(src, dst); err != nil {
		s.log.Warn("mirror copy failed", "location", kind, "path", dst, "error", err)
		return s.failed("store", kind, dst, err)
	}
	return s.ok("store", kind, dst, models.StatusCopied)
}

func (s *FileStore) ok(operation string, kind models.LocationKind, path string, status models.LocationStatus) models.LocationResult {
	if s.metrics != nil {
		s.metrics.RecordLocation(operation, string(kind), string(status))
	}
	return models.LocationResult{Location: kind, Path: path, Status: status}
}

func (s *FileStore) failed(operation string, kind models.LocationKind, path string, err error) models.LocationResult {
	if s.metrics != nil {
		s.metrics.RecordLocation(operation, string(kind), string(models.StatusFailed))
	}
	return models.LocationResult{Location: kind, Path: path, Status: models.StatusFailed, Error: err.Error()}
}

func (s *FileStore) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStorage(operation, start)
	}
}

func (s *FileStore) observeLock(result string, start time.Time) {
	if s.metrics != nil {
		s.metrics.LockWaits.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}

// requireFile returns ErrNotFound unless p is an existing regular file
func requireFile(p string) error {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return ErrNotFound
	}
	return nil
}

// writeFile streams body into a hidden temp file next to dst and renames it
// into place, so a failed upload never leaves a truncated dst behind
func writeFile(dst string, body io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("chmod file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename file: %w", err)
	}
	return n, nil
}

// copyFile overwrites dst with the contents of src and carries over its mtime
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close destination: %w", err)
	}

	// mtime is best-effort; some network shares refuse it
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// moveFile renames src to dst, falling back to copy and delete across devices
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// sameFile reports whether a and b name the same physical file
func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}

	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
