package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is matched by errors.Is for every DuplicateNameError.
	ErrDuplicateName = errors.New("policy name already registered")

	// ErrInvalidPolicy is matched by errors.Is for every ValidationError.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// DuplicateNameError is returned when a policy is registered under a name the
// catalog already holds. It indicates an authoring mistake and is not
// recoverable at runtime.
type DuplicateNameError struct {
	// Name is the colliding policy name.
	Name string
}

// Error implements the error interface.
func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate policy name %q: a policy with this name is already registered", e.Name)
}

// Is lets errors.Is match ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// ValidationError is returned when a record fails structural validation at
// registration.
type ValidationError struct {
	// Name is the policy name, possibly empty.
	Name string

	// Field is the offending field.
	Field string

	// Message describes the problem.
	Message string

	// Err is the underlying validator error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid policy %q: %s: %s", e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid policy: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrInvalidPolicy.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

// IsDuplicateName reports whether err is, or wraps, a DuplicateNameError.
func IsDuplicateName(err error) bool {
	var e *DuplicateNameError
	return errors.As(err, &e)
}
