package scanstore

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("scan store not initialized")
	ErrInvalidRecord  = errors.New("invalid scan record")
	ErrScanNotFound   = errors.New("scan not found")
)

// StorageError is returned by every Store operation that fails. Op names the
// operation ("save", "list_unsynced", ...); Err carries the cause and is
// reachable through errors.Is / errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("scanstore %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func invalid(op, reason string) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %s", ErrInvalidRecord, reason)}
}
