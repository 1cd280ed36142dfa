package envutil

import (
	"errors"
	"fmt"
	"log/slog"

	sessionerrors "github.com/amp-labs/amp-session/errors"
)

var (
	// ErrBadEnvVar is returned for variables whose value could not be parsed.
	ErrBadEnvVar = fmt.Errorf("%w: error parsing environment variable", sessionerrors.ErrConfiguration)
	// ErrEnvVarMissing is returned for required variables that are unset.
	ErrEnvVarMissing = fmt.Errorf("%w: missing environment variable", sessionerrors.ErrConfiguration)
)

// errUnsetValue, returned from a Map function, turns the result into an
// unset Reader instead of an error.
var errUnsetValue = errors.New("unset value")

// Reader is a value read from one environment variable, together with
// whether it was set and what went wrong parsing it.
type Reader[A any] struct {
	key     string
	present bool
	err     error

	value A
}

// Key returns the variable name.
func (e Reader[A]) Key() string {
	return e.key
}

// Value returns the value, or an error if it is missing or malformed.
func (e Reader[A]) Value() (A, error) { //nolint:ireturn
	if e.err != nil {
		return e.value, fmt.Errorf("%w %s: %w", ErrBadEnvVar, e.key, e.err)
	}

	if !e.present {
		return e.value, fmt.Errorf("%w %s", ErrEnvVarMissing, e.key)
	}

	return e.value, nil
}

// ValueOrElse returns the value, or v if it is missing or malformed.
// A malformed value is logged.
func (e Reader[A]) ValueOrElse(v A) A { //nolint:ireturn
	if e.present && e.err == nil {
		return e.value
	}

	if e.err != nil {
		slog.Warn("error reading environment variable, using fallback value",
			"key", e.key, "error", e.err, "fallback", v)
	}

	return v
}

// Into stores the value in dst when there is one and records a parse
// failure in errs. A missing variable leaves dst untouched, unless the
// Reader was built with IfMissing.
func (e Reader[A]) Into(dst *A, errs *sessionerrors.Collection) {
	if e.err != nil {
		_, err := e.Value()
		errs.Add(err)

		return
	}

	if e.present {
		*dst = e.value
	}
}

// HasValue reports whether the variable was set and parsed.
func (e Reader[A]) HasValue() bool {
	return e.present && e.err == nil
}

// HasError reports whether parsing failed.
func (e Reader[A]) HasError() bool {
	return e.err != nil
}

func (e Reader[A]) String() string {
	switch {
	case e.err != nil:
		return fmt.Sprintf("%s=<error: %v>", e.key, e.err)
	case e.present:
		return fmt.Sprintf("%s=%v", e.key, e.value)
	default:
		return e.key + "=<not set>"
	}
}

// WithDefault fills in v when the variable is unset.
func (e Reader[A]) WithDefault(v A) Reader[A] { //nolint:ireturn
	if e.present || e.err != nil {
		return e
	}

	return Reader[A]{key: e.key, present: true, value: v}
}

// WithErrorIfMissing turns an unset variable into err.
func (e Reader[A]) WithErrorIfMissing(err error) Reader[A] { //nolint:ireturn
	if e.present || e.err != nil {
		return e
	}

	return Reader[A]{key: e.key, err: err}
}

// Map transforms the value, keeping the type.
func (e Reader[A]) Map(f func(A) (A, error)) Reader[A] { //nolint:ireturn
	return Map(e, f)
}

// Map transforms the value of env with f. Unset or failed Readers pass
// through untouched.
func Map[A any, B any](env Reader[A], f func(A) (B, error)) Reader[B] {
	if !env.present || env.err != nil {
		return Reader[B]{key: env.key, present: env.present, err: env.err}
	}

	val, err := f(env.value)
	if errors.Is(err, errUnsetValue) {
		return Reader[B]{key: env.key}
	}

	return Reader[B]{key: env.key, present: true, err: err, value: val}
}
