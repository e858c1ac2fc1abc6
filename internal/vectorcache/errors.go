package vectorcache

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt marks a vector file that exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt vector file")
	// ErrEmptyKey is returned when a path key is empty.
	ErrEmptyKey = errors.New("path key cannot be empty")
	// ErrEmptyVector is returned when saving a vector with no components.
	ErrEmptyVector = errors.New("vector cannot be empty")
	// ErrInvalidModel is returned for an empty model name.
	ErrInvalidModel = errors.New("model name cannot be empty")
)

// StorageError is a file-system or manifest failure. It aborts the operation that
// hit it; the cache keeps whatever was last durably written.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
