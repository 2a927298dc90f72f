package snapshot

import (
	"errors"
	"fmt"
)

// Sentinel errors for snapshot operations.
var (
	// ErrFileTooLarge is recorded when a file exceeds the filter's size cap.
	// Oversized files are skipped outright, never partially stored.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrInvalidRoot is returned when the source root is missing or not a directory.
	ErrInvalidRoot = errors.New("invalid snapshot root")

	// ErrInvalidHash is returned when a blob hash is not 64 lowercase hex characters.
	ErrInvalidHash = errors.New("invalid blob hash")
)

// ScanError is a non-fatal, per-file failure. The file is left out of the
// manifest and the snapshot continues.
type ScanError struct {
	// Path is workspace-relative and slash-separated.
	Path string

	// Err is the underlying error.
	Err error

	// Size is the file size when it was known at the time of failure.
	Size int64
}

// Error implements the error interface.
func (e ScanError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e ScanError) Unwrap() error {
	return e.Err
}

// reason classifies err for the skipped-file metric.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return "oversized"
	case isNotExist(err):
		return "vanished"
	case isPermission(err):
		return "permission"
	default:
		return "io"
	}
}
