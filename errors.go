package blobtree

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches one of these with
// [errors.Is].
var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrConflict       = errors.New("destination already exists")
	ErrSelfMove       = errors.New("cannot move a folder into itself")
	ErrNotFound       = errors.New("not found")
	ErrTransient      = errors.New("transient store error")
	ErrPermission     = errors.New("permission denied")
	ErrPartialFailure = errors.New("partial failure")
)

// PathError reports a malformed path or segment.
type PathError struct {
	Op     string
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %s: %s", e.Op, e.Path, ErrInvalidPath, e.Reason)
}

func (e *PathError) Unwrap() error { return ErrInvalidPath }

// ConflictError reports that a destination path is already occupied.
type ConflictError struct {
	Path Path
	Kind NodeKind // what occupies Path
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConflict, e.Kind, e.Path)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing source path.
type NotFoundError struct {
	Path Path
	Kind NodeKind // what was expected at Path
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Path, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// SelfMoveError reports an attempt to move a folder into itself or one of
// its descendants.
type SelfMoveError struct {
	Src  Path
	Dest Path
}

func (e *SelfMoveError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrSelfMove, e.Src, e.Dest)
}

func (e *SelfMoveError) Unwrap() error { return ErrSelfMove }

// StoreError wraps a failure from a [BlobStore] call. Kind is one of
// [ErrNotFound], [ErrPermission], [ErrTransient], [ErrConflict] or nil when
// the store could not classify the failure.
type StoreError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

// NewStoreError builds a classified store error.
func NewStoreError(op, key string, kind, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("store %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("store %s %q: %s", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// PartialFailureError summarizes an [OperationResult] with failed keys.
type PartialFailureError struct {
	Op        string
	Succeeded int
	Failed    int
	First     KeyFailure
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %s: %d of %d keys failed (first %q: %v)",
		e.Op, ErrPartialFailure, e.Failed, e.Succeeded+e.Failed, e.First.Key, e.First.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	if e.First.Err == nil {
		return []error{ErrPartialFailure}
	}
	return []error{ErrPartialFailure, e.First.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsNotFound reports whether err means the key or path does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPermission reports whether err is an authorization failure.
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }
