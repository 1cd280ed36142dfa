package transition

import (
	"errors"
	"testing"

	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errStep = errors.New("step failed")

const (
	stepPrepare = StepCustomStart + iota
	stepExport
	stepWait
)

// scriptedStepper runs stepPrepare -> stepExport -> stepWait. Steps listed in
// sync complete inside ExecuteStep; the others wait for the test to advance.
type scriptedStepper struct {
	sync     map[Step]bool
	fail     map[Step]error
	skip     map[Step]bool
	executed []Step
	asked    []Step
}

func (s *scriptedStepper) NextStep(_ *Transition, step Step) Step {
	s.asked = append(s.asked, step)

	var next Step

	switch step {
	case StepNone:
		next = stepPrepare
	case stepPrepare:
		next = stepExport
	case stepExport:
		next = stepWait
	case stepWait:
		return StepNone
	default:
		return StepInvalid
	}

	if s.skip[next] {
		return s.NextStep(nil, next)
	}

	return next
}

func (s *scriptedStepper) ExecuteStep(t *Transition, step Step) {
	s.executed = append(s.executed, step)

	if err := s.fail[step]; err != nil {
		t.Fail(err)

		return
	}

	if s.sync[step] {
		t.Advance()
	}
}

type result struct {
	calls int
	err   error
}

func (r *result) done(err error) {
	r.calls++
	r.err = err
}

func TestStepsRunInOrderAcrossSuspensions(t *testing.T) {
	t.Parallel()

	stepper := &scriptedStepper{sync: map[Step]bool{stepPrepare: true}}
	res := &result{}

	tr := New(t.Context(), "test", stepper, res.done)
	tr.Advance()

	// stepPrepare completed synchronously, stepExport is suspended.
	assert.Equal(t, []Step{stepPrepare, stepExport}, stepper.executed)
	assert.Equal(t, stepExport, tr.Step())
	assert.False(t, tr.Completed())
	assert.Zero(t, res.calls)

	tr.Advance()
	assert.Equal(t, stepWait, tr.Step())
	assert.Zero(t, res.calls)

	tr.Advance()
	assert.True(t, tr.Completed())
	assert.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	assert.Equal(t, []Step{StepNone, stepPrepare, stepExport, stepWait}, stepper.asked)

	tr.Advance()
	tr.Fail(errStep)
	assert.Equal(t, 1, res.calls, "terminal callback fires exactly once")
}

func TestSynchronousStepsAreTrampolined(t *testing.T) {
	t.Parallel()

	stepper := &scriptedStepper{sync: map[Step]bool{stepPrepare: true, stepExport: true, stepWait: true}}
	res := &result{}

	New(t.Context(), "test", stepper, res.done).Advance()

	assert.Equal(t, []Step{stepPrepare, stepExport, stepWait}, stepper.executed)
	assert.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
}

func TestSkippedStep(t *testing.T) {
	t.Parallel()

	stepper := &scriptedStepper{
		sync: map[Step]bool{stepPrepare: true, stepWait: true},
		skip: map[Step]bool{stepExport: true},
	}
	res := &result{}

	New(t.Context(), "test", stepper, res.done).Advance()

	assert.Equal(t, []Step{stepPrepare, stepWait}, stepper.executed)
	require.NoError(t, res.err)
}

func TestFailureStopsTransition(t *testing.T) {
	t.Parallel()

	stepper := &scriptedStepper{
		sync: map[Step]bool{stepPrepare: true},
		fail: map[Step]error{stepExport: errStep},
	}
	res := &result{}

	tr := New(t.Context(), "test", stepper, res.done)
	tr.Advance()

	assert.Equal(t, []Step{stepPrepare, stepExport}, stepper.executed)
	assert.Equal(t, 1, res.calls)
	require.ErrorIs(t, res.err, errStep)

	var stepErr *StepError
	require.ErrorAs(t, res.err, &stepErr)
	assert.Equal(t, stepExport, stepErr.Step)
	assert.Equal(t, res.err, tr.Err())

	tr.Advance()
	assert.Len(t, stepper.executed, 2, "no steps run after failure")
}

func TestAsyncFailure(t *testing.T) {
	t.Parallel()

	stepper := &scriptedStepper{}
	res := &result{}

	tr := New(t.Context(), "test", stepper, res.done)
	tr.Advance()
	tr.Fail(errStep)

	require.ErrorIs(t, res.err, errStep)
	assert.Equal(t, 1, res.calls)
}

type errorStepper struct{}

func (errorStepper) NextStep(*Transition, Step) Step { return StepInvalid }

func (errorStepper) ExecuteStep(*Transition, Step) {}

func TestInvalidStep(t *testing.T) {
	t.Parallel()

	res := &result{}

	New(t.Context(), "test", errorStepper{}, res.done).Advance()

	require.ErrorIs(t, res.err, ErrInvalidStep)
}

type doubleAdvanceStepper struct{ scriptedStepper }

func (d *doubleAdvanceStepper) ExecuteStep(t *Transition, step Step) {
	d.executed = append(d.executed, step)
	t.Advance()
	t.Advance()
}

func TestDoubleAdvanceIsRejected(t *testing.T) {
	t.Parallel()

	stepper := &doubleAdvanceStepper{}
	res := &result{}

	New(t.Context(), "test", stepper, res.done).Advance()

	require.ErrorIs(t, res.err, ErrReentrantAdvance)
	require.ErrorIs(t, res.err, sessionerrors.ErrPrecondition)
	assert.Equal(t, []Step{stepPrepare}, stepper.executed)
}

type advancingNextStepper struct{ scriptedStepper }

func (a *advancingNextStepper) NextStep(t *Transition, step Step) Step {
	t.Advance()

	return a.scriptedStepper.NextStep(t, step)
}

func TestAdvanceFromNextStepIsRejected(t *testing.T) {
	t.Parallel()

	res := &result{}

	New(t.Context(), "test", &advancingNextStepper{}, res.done).Advance()

	require.ErrorIs(t, res.err, ErrReentrantAdvance)
	assert.Equal(t, 1, res.calls)
}

func TestOwnerDestroyedAbortsSilently(t *testing.T) {
	t.Parallel()

	alive := true
	stepper := &scriptedStepper{}
	res := &result{}

	tr := New(t.Context(), "test", stepper, res.done, WithLiveness(func() bool { return alive }))
	tr.Advance()

	alive = false

	tr.Advance()

	assert.True(t, tr.Completed())
	assert.True(t, tr.Aborted())
	assert.Zero(t, res.calls, "aborted transitions never invoke the callback")
	assert.Equal(t, []Step{stepPrepare}, stepper.executed)

	alive2 := true
	tr2 := New(t.Context(), "test", &scriptedStepper{}, res.done, WithLiveness(func() bool { return alive2 }))
	tr2.Advance()

	alive2 = false

	tr2.Fail(errStep)
	assert.True(t, tr2.Aborted())
	assert.Zero(t, res.calls, "a failure reported after destruction is dropped too")
}

func TestTransitionSpan(t *testing.T) { //nolint:paralleltest
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	stepper := &scriptedStepper{sync: map[Step]bool{stepPrepare: true, stepExport: true}}
	res := &result{}

	tr := New(t.Context(), "endpoint", stepper, res.done)
	tr.Advance()
	tr.Fail(errStep)

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "transition.endpoint", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Len(t, span.Events(), 4, "three step events and the recorded error")
}
