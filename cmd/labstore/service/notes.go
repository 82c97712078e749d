package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/repnlab/labstore/common/lock"
	"github.com/repnlab/labstore/common/logger"
)

// NoteStore keeps free-text notes per file in <primary>/file_notes.json.
// Updates are applied as JSON merge patches so a null value deletes a note.
type NoteStore struct {
	paths    *PathResolver
	locker   lock.Locker
	lockTTL  time.Duration
	lockWait time.Duration
	log      *logger.Logger
}

// NewNoteStore creates a note store
func NewNoteStore(paths *PathResolver, locker lock.Locker, lockTTL, lockWait time.Duration, log *logger.Logger) *NoteStore {
	return &NoteStore{
		paths:    paths,
		locker:   locker,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		log:      log,
	}
}

// All returns every note of category. A missing notes file is an empty map.
func (n *NoteStore) All(ctx context.Context, category string) (map[string]string, error) {
	p, err := n.paths.NotesPath(category)
	if err != nil {
		return nil, err
	}

	data, err := n.read(p)
	if err != nil {
		return nil, err
	}

	notes := map[string]string{}
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return notes, nil
}

// Get returns the note of one file
func (n *NoteStore) Get(ctx context.Context, category, name string) (string, bool, error) {
	notes, err := n.All(ctx, category)
	if err != nil {
		return "", false, err
	}
	note, ok := notes[name]
	return note, ok, nil
}

// Set stores note for name; an empty note deletes it
func (n *NoteStore) Set(ctx context.Context, category, name, note string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	var value any = note
	if note == "" {
		value = nil
	}
	return n.Patch(ctx, category, map[string]any{name: value})
}

// Delete removes the note for name
func (n *NoteStore) Delete(ctx context.Context, category, name string) error {
	return n.Patch(ctx, category, map[string]any{name: nil})
}

// Patch applies a merge patch to the category's notes. String values set a
// note, null removes it.
func (n *NoteStore) Patch(ctx context.Context, category string, patch map[string]any) error {
	p, err := n.paths.NotesPath(category)
	if err != nil {
		return err
	}

	for name, v := range patch {
		if err := ValidateName(name); err != nil {
			return err
		}
		switch v.(type) {
		case string, nil:
		default:
			return fmt.Errorf("%w: note for %q must be a string or null", ErrInvalidName, name)
		}
	}

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode notes patch: %w", err)
	}

	release, err := n.locker.Acquire(ctx, lock.Key(category, "", NotesFile), n.lockTTL, n.lockWait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return fmt.Errorf("%w: notes of %s", ErrBusy, category)
		}
		return fmt.Errorf("failed to lock notes: %w", err)
	}
	defer release()

	current, err := n.read(p)
	if err != nil {
		return err
	}

	merged, err := jsonpatch.MergePatch(current, patchJSON)
	if err != nil {
		return fmt.Errorf("failed to merge notes patch: %w", err)
	}

	// re-indent for people reading the file directly
	var notes map[string]string
	if err := json.Unmarshal(merged, &notes); err != nil {
		return fmt.Errorf("failed to decode merged notes: %w", err)
	}
	out, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}

	if err := writeAtomic(p, out); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	n.log.WithContext(ctx).WithCategory(category).Debug("notes updated", "changes", len(patch))
	return nil
}

func (n *NoteStore) read(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

func writeAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
