package metadata

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateChild is returned when a parent already has a child of the
	// same type and name.
	ErrDuplicateChild = errors.New("duplicate child")

	// ErrAlreadyAttached is returned when a node is added to a second parent.
	ErrAlreadyAttached = errors.New("node already has a parent")

	// ErrForeignNode is returned when a node from another tree is added.
	ErrForeignNode = errors.New("node belongs to a different tree")
)

// InvalidChildError is returned when a parent's type does not accept a child.
type InvalidChildError struct {
	ParentPath   string
	ChildName    string
	ChildType    string
	ChildSubType string
	Supported    string
}

func (e *InvalidChildError) Error() string {
	return fmt.Sprintf("invalid metadata: %s '%s' of type %s.%s is not accepted by %s. %s",
		e.ChildType, e.ChildName, e.ChildType, e.ChildSubType, e.ParentPath, e.Supported)
}

// NotFoundError is returned when a named child lookup misses. It lists what is
// available so the caller can see the mistake.
type NotFoundError struct {
	ParentPath string
	Kind       string
	Name       string
	Available  []string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "child"
	}
	if len(e.Available) == 0 {
		return fmt.Sprintf("%s '%s' not found in %s. No %ss available", kind, e.Name, e.ParentPath, kind)
	}
	return fmt.Sprintf("%s '%s' not found in %s. Available %ss: [%s]",
		kind, e.Name, e.ParentPath, kind, strings.Join(e.Available, ", "))
}

// StateError is returned when an operation is not valid in the tree's
// current loading state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("metadata %s not allowed in state %s", e.Op, e.State)
}

// IsInvalidChild reports whether err is a child rejection.
func IsInvalidChild(err error) bool {
	var e *InvalidChildError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsStateError reports whether err is a loading state violation.
func IsStateError(err error) bool {
	var e *StateError
	return errors.As(err, &e)
}
