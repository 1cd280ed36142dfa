package item

import (
	"context"

	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/transition"
)

// Activation is the handle an Impl's steps use during one activation
// attempt. Every Wait method suspends the current step and advances (or
// fails) the attempt when the awaited thing completes.
type Activation struct {
	item    *Item
	t       *transition.Transition
	fut     *future.Future[struct{}]
	promise *future.Promise[struct{}]
}

// Item returns the item being activated.
func (a *Activation) Item() *Item {
	return a.item
}

// Context returns the attempt's context.
func (a *Activation) Context() context.Context {
	return a.t.Context()
}

// Step returns the step being executed.
func (a *Activation) Step() transition.Step {
	return a.t.Step()
}

// Advance reports that the current step completed.
func (a *Activation) Advance() {
	a.t.Advance()
}

// Fail reports that the current step failed.
func (a *Activation) Fail(err error) {
	a.t.Fail(err)
}

// SetExported records that this attempt exported the item.
func (a *Activation) SetExported() {
	if a.item.activation == a {
		a.item.exported = true
	}
}

// WaitFeatures suspends until p has all of features.
func (a *Activation) WaitFeatures(p *proxy.Proxy, features proxy.Features) {
	Await(a, p.RequestFeatures(features), nil)
}

// WaitSync suspends until a round trip on p completes.
func (a *Activation) WaitSync(p *proxy.Proxy) {
	Await(a, p.Sync(), nil)
}

// WaitItem activates dep, a dependency the item does not own, and suspends
// until it is active. The step fails if dep is destroyed first.
func (a *Activation) WaitItem(dep *Item) {
	step := a.Step()
	settled := false

	settle := func(err error) {
		if settled || a.t.Completed() || a.Step() != step {
			return
		}

		settled = true

		a.complete(err)
	}

	dep.OnDestroyed(func() {
		settle(sessionerrors.Destroyed("dependency " + dep.kind + " " + dep.id))
	})

	if err := dep.Activate(a.Context(), settle); err != nil {
		settle(err)
	}
}

// Await suspends the current step of a until fut completes. then, if not
// nil, receives the value and may fail the step by returning an error.
func Await[T any](a *Activation, fut *future.Future[T], then func(T) error) {
	fut.OnResult(func(value T, err error) {
		if err == nil && then != nil {
			err = then(value)
		}

		a.complete(err)
	})
}

// join returns a future for a caller joining the attempt. Unlike the
// attempt's own future it fails when the item is destroyed.
func (a *Activation) join() *future.Future[struct{}] {
	fut, promise := future.New[struct{}]()

	a.fut.OnResult(func(_ struct{}, err error) {
		promise.Complete(struct{}{}, err)
	})

	i := a.item
	i.OnDestroyed(func() {
		promise.Failure(sessionerrors.Destroyed("item " + i.id))
	})

	return fut
}

func (a *Activation) complete(err error) {
	if err != nil {
		a.Fail(err)

		return
	}

	a.Advance()
}

// finish is the transition's completion callback. The item's state is
// updated before anyone waiting on the attempt hears about it.
func (a *Activation) finish(err error) {
	i := a.item
	if i.activation == a {
		i.activation = nil
	}

	if err != nil {
		err = sessionerrors.WrapActivationError(i.kind+" "+i.id, uint(a.t.Step()), err)
		i.setState(StateError)
	} else {
		i.setState(StateActive)
	}

	a.promise.Complete(struct{}{}, err)
}

// stepper adapts an Impl to transition.Stepper.
type stepper struct {
	a *Activation
}

func (s *stepper) NextStep(t *transition.Transition, step transition.Step) transition.Step {
	i := s.a.item

	if step == transition.StepNone {
		i.updateConfigured()

		if i.flags&FlagConfigured == 0 {
			t.Fail(ErrNotConfigured)

			return transition.StepInvalid
		}
	}

	return i.impl.NextStep(s.a, step)
}

func (s *stepper) ExecuteStep(_ *transition.Transition, step transition.Step) {
	s.a.item.impl.ExecuteStep(s.a, step)
}
