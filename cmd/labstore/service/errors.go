package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory means the category is not in the configured table
	ErrUnknownCategory = errors.New("unknown category")

	// ErrNotFound means the artifact is missing at the expected location
	ErrNotFound = errors.New("artifact not found")

	// ErrWriteFailed means the primary copy could not be written
	ErrWriteFailed = errors.New("write failed")

	// ErrAlreadyPresent means source and destination are the same file.
	// It is reported as a location status, never returned by Store.
	ErrAlreadyPresent = errors.New("already present")

	// ErrInvalidName means a file or owner name cannot be used as a path element
	ErrInvalidName = errors.New("invalid name")

	// ErrRejected means the upload policy refused the file
	ErrRejected = errors.New("upload rejected")

	// ErrBusy means another operation held the artifact lock for too long
	ErrBusy = errors.New("artifact is busy")
)

// WriteFailedError carries the path and cause of a failed primary write
type WriteFailedError struct {
	Path string
	Err  error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("write failed: %s: %v", e.Path, e.Err)
}

func (e *WriteFailedError) Unwrap() error {
	return e.Err
}

// Is reports ErrWriteFailed as a match so callers need not know the concrete type
func (e *WriteFailedError) Is(target error) bool {
	return target == ErrWriteFailed
}
