package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound is matched by every ObjectNotFoundError
	ErrObjectNotFound = errors.New("object not found")

	// ErrDirtyWrite is matched by every DirtyWriteError
	ErrDirtyWrite = errors.New("object was modified by another writer")

	// ErrNotStateAware is returned by StoreObject for objects that do not
	// track their persistence state
	ErrNotStateAware = errors.New("object is not state aware")

	// ErrNoPrimaryKey is returned by ref operations on objects without key
	// fields
	ErrNoPrimaryKey = errors.New("no primary key")

	// ErrInvalidRef is returned when an object reference cannot be parsed
	ErrInvalidRef = errors.New("invalid object reference")

	// ErrClosed is returned by async operations after Close
	ErrClosed = errors.New("object manager is closed")

	// ErrNoConnector is returned by GetConnection when neither a connector
	// option nor a connecting persister is configured
	ErrNoConnector = errors.New("no connector configured")

	// ErrNoMetadata is returned by ref lookups when the manager has no
	// metadata tree to resolve object names
	ErrNoMetadata = errors.New("no metadata tree configured")
)

// ObjectNotFoundError reports that no object matched a key or reference.
type ObjectNotFoundError struct {
	Type string
	Key  string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s [%s]", ErrObjectNotFound, e.Type, e.Key)
}

// Is matches ErrObjectNotFound.
func (e *ObjectNotFoundError) Is(target error) bool {
	return target == ErrObjectNotFound
}

// DirtyWriteError reports an update rejected because the stored row changed
// since the object was read. Field is the checked field.
type DirtyWriteError struct {
	Type  string
	Key   string
	Field string
}

func (e *DirtyWriteError) Error() string {
	return fmt.Sprintf("%s: %s [%s], check field %s", ErrDirtyWrite, e.Type, e.Key, e.Field)
}

// Is matches ErrDirtyWrite.
func (e *DirtyWriteError) Is(target error) bool {
	return target == ErrDirtyWrite
}

// PersistenceError wraps every failure of a persistence operation with the
// operation and object type.
type PersistenceError struct {
	Op   Operation
	Type string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Type, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsObjectNotFound returns true if the error is an ObjectNotFoundError
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsDirtyWrite returns true if the error is a DirtyWriteError
func IsDirtyWrite(err error) bool {
	return errors.Is(err, ErrDirtyWrite)
}
