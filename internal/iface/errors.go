package iface

import (
	"errors"
	"fmt"
)

// ErrCancelled reports that the caller cancelled the request before it
// completed. Requests failing with it must not be answered.
var ErrCancelled = errors.New("request cancelled")

// BackendError reports that the analysis backend could not produce
// interface text for a module.
type BackendError struct {
	Module ModuleName
	Err    error
}

func (e *BackendError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("backend: %v", e.Err)
	}
	return fmt.Sprintf("backend: module %q: %v", string(e.Module), e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// StorageError reports that a generated interface could not be persisted.
type StorageError struct {
	Module ModuleName
	Op     string
	Path   string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage: %s module %q: %v", e.Op, string(e.Module), e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from a cancelled request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
