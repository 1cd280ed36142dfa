package transition

import (
	"errors"
	"fmt"

	sessionerrors "github.com/amp-labs/amp-session/errors"
)

var (
	// ErrInvalidStep is reported when NextStep returns StepInvalid.
	ErrInvalidStep = errors.New("no valid next step")
	// ErrReentrantAdvance is reported when a step is advanced more than once,
	// or Advance is called from inside NextStep.
	ErrReentrantAdvance = fmt.Errorf("%w: transition advanced re-entrantly", sessionerrors.ErrPrecondition)
)

// StepError wraps an error with the step it happened in.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// WrapStepError wraps an error with step context. Nil stays nil.
func WrapStepError(step Step, err error) error {
	if err == nil {
		return nil
	}

	var already *StepError
	if errors.As(err, &already) {
		return err
	}

	return &StepError{Step: step, Err: err}
}
