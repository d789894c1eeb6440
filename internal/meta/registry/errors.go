package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDefinition is returned for definitions missing required parts.
	ErrInvalidDefinition = errors.New("invalid type definition")

	// ErrProviderCycle is returned when provider dependencies form a cycle.
	ErrProviderCycle = errors.New("circular provider dependency")

	// ErrMissingProvider is returned when a provider depends on an unknown one.
	ErrMissingProvider = errors.New("missing provider dependency")
)

// ConflictError is returned when a (type, subType) pair is registered twice
// with different implementations.
type ConflictError struct {
	QualifiedName string
	Existing      string
	Requested     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("type already registered with different implementation: %s. Existing: %s, New: %s",
		e.QualifiedName, e.Existing, e.Requested)
}

// TypeNotFoundError is returned when a lookup misses. The message lists every
// registered type.
type TypeNotFoundError struct {
	QualifiedName string
	Available     []string
}

func (e *TypeNotFoundError) Error() string {
	return fmt.Sprintf("no type registered for: %s. Available types: [%s]",
		e.QualifiedName, strings.Join(e.Available, ", "))
}

// InheritanceCycleError is returned when a definition would become its own
// ancestor.
type InheritanceCycleError struct {
	Chain []string
}

func (e *InheritanceCycleError) Error() string {
	return fmt.Sprintf("inheritance cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// IsConflict reports whether err is a registration conflict.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsTypeNotFound reports whether err is a type lookup miss.
func IsTypeNotFound(err error) bool {
	var e *TypeNotFoundError
	return errors.As(err, &e)
}

// IsInheritanceCycle reports whether err is an inheritance cycle.
func IsInheritanceCycle(err error) bool {
	var e *InheritanceCycleError
	return errors.As(err, &e)
}
