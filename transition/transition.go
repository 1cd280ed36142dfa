// Package transition implements the step-driven asynchronous state machine
// that every session object uses to reach a ready state.
//
// A Transition never holds a list of steps. After each step completes it
// asks its Stepper for the step that follows, so the sequence can depend on
// state discovered along the way (for example skipping an export that
// already happened). Steps are expected to return immediately and call
// Advance or Fail later, from whatever event completes them.
//
// A transition runs at most one step at a time, invokes its completion
// callback exactly once, and never rolls anything back: recovering from a
// failure is the owner's job.
package transition

import (
	"context"
	"time"

	"github.com/amp-labs/amp-session/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step identifies one unit of work. Values below StepCustomStart are reserved.
type Step uint

const (
	// StepNone is the step before the first one. Returned by NextStep after
	// the start it means the transition is done.
	StepNone Step = 0
	// StepInvalid is returned by NextStep when the transition cannot continue.
	StepInvalid Step = 1
	// StepCustomStart is the first value available to steppers.
	StepCustomStart Step = 16
)

// Stepper supplies and executes the steps of a transition.
type Stepper interface {
	// NextStep returns the step that follows step. It must not block and must
	// not call Advance.
	NextStep(t *Transition, step Step) Step
	// ExecuteStep starts step. It must not block; Advance or Fail is called
	// when the step completes, possibly before ExecuteStep returns.
	ExecuteStep(t *Transition, step Step)
}

// Option configures a Transition.
type Option func(*Transition)

// WithLiveness installs a check consulted before every step and before the
// completion callback. Once it reports false the transition retires
// silently, without invoking the callback.
func WithLiveness(alive func() bool) Option {
	return func(t *Transition) {
		t.alive = alive
	}
}

// Transition is one in-flight run of a Stepper. It is not reusable.
type Transition struct {
	ctx     context.Context //nolint:containedctx
	kind    string
	stepper Stepper
	alive   func() bool
	done    func(error)

	step      Step
	started   bool
	running   bool
	executing bool
	advanced  bool
	completed bool
	aborted   bool
	err       error

	startTime time.Time
	span      trace.Span
}

// New creates a transition for stepper. kind names the family of objects it
// drives and is used for logs, spans and metrics. done receives the terminal
// result. Nothing happens until the first Advance.
func New(ctx context.Context, kind string, stepper Stepper, done func(error), opts ...Option) *Transition {
	if ctx == nil {
		ctx = context.Background()
	}

	t := &Transition{
		ctx:     ctx,
		kind:    kind,
		stepper: stepper,
		done:    done,
		alive:   func() bool { return true },
		step:    StepNone,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Context returns the transition's context. It carries the transition span,
// so work started from a step is traced as a child of the transition.
func (t *Transition) Context() context.Context {
	return t.ctx
}

// Kind returns the kind given to New.
func (t *Transition) Kind() string {
	return t.kind
}

// Step returns the current step.
func (t *Transition) Step() Step {
	return t.step
}

// Completed reports whether the transition has retired, for any reason.
func (t *Transition) Completed() bool {
	return t.completed
}

// Aborted reports whether the transition retired because its owner went away.
func (t *Transition) Aborted() bool {
	return t.aborted
}

// Err returns the terminal error, if the transition failed.
func (t *Transition) Err() error {
	return t.err
}

// Advance moves to the next step. It starts the transition on first use and
// is the way a step reports success. Calls after retirement are ignored.
func (t *Transition) Advance() {
	if t.completed {
		return
	}

	if t.executing {
		// Completed within ExecuteStep: the running loop picks it up.
		if t.advanced {
			t.finish(WrapStepError(t.step, ErrReentrantAdvance))

			return
		}

		t.advanced = true

		return
	}

	if t.running {
		t.finish(WrapStepError(t.step, ErrReentrantAdvance))

		return
	}

	if !t.started {
		t.start()
	}

	t.run()
}

// Fail retires the transition with err. Calls after retirement are ignored.
func (t *Transition) Fail(err error) {
	if t.completed {
		return
	}

	t.finish(WrapStepError(t.step, err))
}

func (t *Transition) start() {
	t.started = true
	t.startTime = time.Now()

	//nolint:spancheck // ended in finish
	t.ctx, t.span = otel.Tracer("transition").Start(t.ctx, "transition."+sanitizeKind(t.kind))

	transitionsStarted.WithLabelValues(sanitizeKind(t.kind)).Inc()
}

// run drives steps until one suspends or the transition retires. Steps that
// complete synchronously are trampolined here instead of recursing.
func (t *Transition) run() {
	t.running = true
	defer func() { t.running = false }()

	for !t.completed {
		if !t.alive() {
			t.abort()

			return
		}

		next := t.stepper.NextStep(t, t.step)
		if t.completed {
			return
		}

		switch next {
		case StepNone:
			t.finish(nil)

			return
		case StepInvalid:
			t.finish(WrapStepError(t.step, ErrInvalidStep))

			return
		}

		t.step = next
		t.advanced = false

		t.span.AddEvent("step", trace.WithAttributes(attribute.Int("step", int(next))))
		stepsExecuted.WithLabelValues(sanitizeKind(t.kind)).Inc()
		logger.Get(t.ctx).Debug("transition step", "kind", t.kind, "step", next)

		t.executing = true
		t.stepper.ExecuteStep(t, next)
		t.executing = false

		if !t.advanced {
			// Suspended until a later event calls Advance or Fail.
			return
		}
	}
}

func (t *Transition) abort() {
	t.completed = true
	t.aborted = true

	t.record(outcomeAborted, nil)
	logger.Get(t.ctx).Debug("transition aborted", "kind", t.kind, "step", t.step)
}

func (t *Transition) finish(err error) {
	if !t.alive() {
		t.abort()

		return
	}

	t.completed = true
	t.err = err

	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}

	t.record(outcome, err)

	if err != nil {
		logger.Get(t.ctx).Debug("transition failed", "kind", t.kind, "step", t.step, "error", err)
	} else {
		logger.Get(t.ctx).Debug("transition completed", "kind", t.kind)
	}

	if t.done != nil {
		t.done(err)
	}
}

func (t *Transition) record(outcome string, err error) {
	transitionsFinished.WithLabelValues(sanitizeKind(t.kind), outcome).Inc()

	if !t.started {
		return
	}

	transitionDuration.WithLabelValues(sanitizeKind(t.kind), outcome).Observe(time.Since(t.startTime).Seconds())

	switch {
	case err != nil:
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	case outcome == outcomeAborted:
		t.span.SetStatus(codes.Error, outcomeAborted)
	default:
		t.span.SetStatus(codes.Ok, "completed")
	}

	t.span.End()
}
