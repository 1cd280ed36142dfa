// Package errors classifies every failure the session layer can report.
//
// Four sentinel kinds exist and every returned error wraps exactly one of
// them, so callers can branch with errors.Is:
//   - ErrConfiguration: bad input to Configure; fix the values and call again
//   - ErrActivation: an activation step failed; Reset then Activate again
//   - ErrPrecondition: an operation was called in a state that forbids it
//   - ErrDestroyed: the remote counterpart is gone; recreate the object
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates invalid or non-writable configuration input.
	ErrConfiguration = errors.New("configuration error")
	// ErrActivation indicates that an activation step failed.
	ErrActivation = errors.New("activation error")
	// ErrPrecondition indicates an operation called in a state that forbids it.
	ErrPrecondition = errors.New("precondition violated")
	// ErrDestroyed indicates that the object, or its remote counterpart, is gone.
	ErrDestroyed = errors.New("object destroyed")

	ErrNotImplemented = errors.New("not implemented")
	ErrWrongType      = errors.New("wrong type")
)

// ConfigurationError reports which option was rejected by Configure.
type ConfigurationError struct {
	Option string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("option %q: %v", e.Option, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// NewConfigurationError wraps err as a configuration failure of the named option.
func NewConfigurationError(option string, err error) error {
	return &ConfigurationError{Option: option, Err: err}
}

// ActivationError reports the item and step at which an activation failed.
type ActivationError struct {
	Item string
	Step uint
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation of %s failed at step %d: %v", e.Item, e.Step, e.Err)
}

func (e *ActivationError) Unwrap() []error {
	return []error{ErrActivation, e.Err}
}

// WrapActivationError wraps err with item and step context. Nil stays nil.
func WrapActivationError(item string, step uint, err error) error {
	if err == nil {
		return nil
	}

	var already *ActivationError
	if errors.As(err, &already) {
		return err
	}

	return &ActivationError{Item: item, Step: step, Err: err}
}

// PreconditionError reports an operation that was refused because of the
// current state of its receiver.
type PreconditionError struct {
	Op    string
	State string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPrecondition
}

// NewPreconditionError builds a PreconditionError for op refused in state.
func NewPreconditionError(op, state string) error {
	return &PreconditionError{Op: op, State: state}
}

// Destroyed wraps ErrDestroyed with the name of the object that vanished.
func Destroyed(what string) error {
	return fmt.Errorf("%w: %s", ErrDestroyed, what)
}

// Collection gathers the errors of a multi-part validation so that every
// problem is reported at once. It is not safe for concurrent use.
type Collection struct {
	errors []error
}

// Add records err. Nil is ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// HasError reports whether anything was recorded.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// GetError returns nil, the only recorded error, or all of them joined.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}
