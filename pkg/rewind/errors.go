package rewind

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
	"github.com/randalmurphal/rewind/pkg/rewind/restore"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
	"github.com/randalmurphal/rewind/pkg/rewind/vcs"
)

// Sentinel errors for engine operations.
var (
	// ErrEngineClosed indicates an operation on a closed Engine.
	ErrEngineClosed = errors.New("engine closed")

	// ErrRegistryClosed indicates Open on a closed Registry.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrInvalidArgument indicates a caller-supplied argument was rejected.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotRepository indicates the workspace is not inside a git repository
	// and no index path was configured.
	ErrNotRepository = vcs.ErrNotRepository
)

// Kind classifies an OpError.
type Kind string

const (
	KindNotInitialized Kind = "not-initialized"
	KindNotRepository  Kind = "not-repository"
	KindNotFound       Kind = "not-found"
	KindInvalid        Kind = "invalid"
	KindIO             Kind = "io"
	KindInternal       Kind = "internal"
)

// OpError is returned by every Engine operation.
type OpError struct {
	// Op is the operation that failed ("create", "restore", ...).
	Op string
	// ID is the checkpoint involved, if any.
	ID string
	// Kind classifies Err.
	Kind Kind
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OpError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic recovered inside an operation.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// KindOf returns the Kind of err, or "" if err is not an *OpError.
func KindOf(err error) Kind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound || errors.Is(err, store.ErrNotFound)
}

func opError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var existing *OpError
	if errors.As(err, &existing) {
		return err
	}
	return &OpError{Op: op, ID: id, Kind: classify(err), Err: err}
}

// classify maps package sentinels to a Kind. Cancellation reports as io;
// errors.Is(err, context.Canceled) still tells it apart.
func classify(err error) Kind {
	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
		return KindInternal
	case errors.Is(err, vcs.ErrNotRepository):
		return KindNotRepository
	case errors.Is(err, store.ErrNotInitialized),
		errors.Is(err, store.ErrStoreClosed),
		errors.Is(err, index.ErrIndexClosed),
		errors.Is(err, ErrEngineClosed),
		errors.Is(err, ErrRegistryClosed):
		return KindNotInitialized
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, checkpoint.ErrInvalidMetadata),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrInvalidArchive),
		errors.Is(err, store.ErrUnknownBackend),
		errors.Is(err, restore.ErrNoManifest),
		errors.Is(err, ErrInvalidArgument):
		return KindInvalid
	default:
		return KindIO
	}
}
