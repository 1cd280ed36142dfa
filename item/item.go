// Package item implements session items: configurable objects that become
// usable through an asynchronous activation.
//
// Item holds what every kind shares (configuration validated against a
// ConfigSpec, the activation state and the flags) and delegates the
// kind-specific parts to an Impl. Activation runs one transition.Transition
// per attempt; the Impl supplies its steps and uses the Activation handle to
// wait on proxies, round trips and other items.
//
// The activation state is owned by Item and can only change through
// Activate, Reset and the transition's completion. Flags are owned by the
// Impl, except FlagConfigured which Item derives from the configuration.
package item

import (
	"context"
	"errors"
	"fmt"

	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/transition"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// ErrNotConfigured fails an activation started while a required option has no value.
var ErrNotConfigured = errors.New("item is not configured")

// ErrNotCustomFlag is returned by SetFlag and ClearFlag for reserved bits.
var ErrNotCustomFlag = errors.New("only custom flags can be changed directly")

// State is the activation state of an item.
type State int

const (
	StateIdle State = iota
	StateActivating
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateError:
		return "in-error"
	default:
		return "unknown"
	}
}

// Flags are the Impl-owned bits of an item.
type Flags uint32

const (
	// FlagConfigured is set while every required option has a value.
	FlagConfigured Flags = 1 << 8
	// FlagCustomStart is the first bit an Impl may use for its own purposes.
	FlagCustomStart Flags = 1 << 16

	customMask = ^(FlagCustomStart - 1)
)

// Impl is the kind-specific part of an item.
type Impl interface {
	ConfigSpec() ConfigSpec
	NextStep(a *Activation, step transition.Step) transition.Step
	ExecuteStep(a *Activation, step transition.Step)
}

// Configurer lets an Impl validate or react to a configuration that passed
// the ConfigSpec checks. Returning an error rejects the whole call.
type Configurer interface {
	Configure(values Values) error
}

// Provider supplies values for OptionProvided options that were not set.
type Provider interface {
	Provided(name string) (any, bool)
}

// Resetter is called by Reset before the item returns to its baseline.
type Resetter interface {
	Reset()
}

// FlagPreserver names custom flags that survive Reset.
type FlagPreserver interface {
	PreservedFlags() Flags
}

// Item is one configurable, activatable entity. Like everything driven by
// the event loop it must only be used from the loop goroutine.
type Item struct {
	impl Impl
	kind string
	id   string

	state    State
	exported bool
	flags    Flags
	config   Values

	generation *atomic.Uint64
	destroyed  bool
	activation *Activation

	observers   []func(old, new State)
	onDestroyed []func()
}

// New creates an idle, unconfigured item of the given kind.
func New(kind string, impl Impl) *Item {
	return &Item{
		impl:       impl,
		kind:       kind,
		id:         uuid.New().String(),
		config:     Values{},
		generation: atomic.NewUint64(0),
	}
}

// Kind returns the item kind.
func (i *Item) Kind() string {
	return i.kind
}

// ID returns an identifier unique to this item in this process.
func (i *Item) ID() string {
	return i.id
}

// State returns the activation state.
func (i *Item) State() State {
	return i.state
}

// Exported reports whether an activation step exported the item.
func (i *Item) Exported() bool {
	return i.exported
}

// Flags returns the Impl-owned flags.
func (i *Item) Flags() Flags {
	return i.flags
}

// Destroyed reports whether Destroy was called.
func (i *Item) Destroyed() bool {
	return i.destroyed
}

// SetFlag sets custom flags.
func (i *Item) SetFlag(f Flags) error {
	if f&^customMask != 0 {
		return fmt.Errorf("%w: 0x%x", ErrNotCustomFlag, uint32(f))
	}

	i.flags |= f

	return nil
}

// ClearFlag clears custom flags.
func (i *Item) ClearFlag(f Flags) error {
	if f&^customMask != 0 {
		return fmt.Errorf("%w: 0x%x", ErrNotCustomFlag, uint32(f))
	}

	i.flags &^= f

	return nil
}

// OnStateChanged registers an observer. Observers run after the new state is
// fully in place.
func (i *Item) OnStateChanged(cb func(old, new State)) {
	i.observers = append(i.observers, cb)
}

// OnDestroyed registers cb to run once when the item is destroyed. It runs
// immediately if that already happened.
func (i *Item) OnDestroyed(cb func()) {
	if i.destroyed {
		cb()

		return
	}

	i.onDestroyed = append(i.onDestroyed, cb)
}

func (i *Item) setState(s State) {
	old := i.state
	if old == s {
		return
	}

	i.state = s

	for _, cb := range i.observers {
		cb(old, s)
	}
}

func (i *Item) context(ctx context.Context) context.Context {
	return logger.WithObject(ctx, i.kind, i.id)
}

// ConfigSpec returns the options this item understands.
func (i *Item) ConfigSpec() ConfigSpec {
	return i.impl.ConfigSpec()
}

// Configure replaces the configuration with the recognized options in
// values. It fails without changing anything if an option is read-only or
// has the wrong type, or if the Impl rejects the values. Unknown options are
// ignored. FlagConfigured reflects whether every required option now has a
// value.
func (i *Item) Configure(values Values) error {
	if i.destroyed {
		return sessionerrors.Destroyed("item " + i.id)
	}

	if i.state == StateActivating || i.state == StateActive {
		return sessionerrors.NewPreconditionError("configure", i.state.String())
	}

	spec := i.impl.ConfigSpec()
	accepted := Values{}

	var errs sessionerrors.Collection

	for _, name := range values.Keys() {
		opt, known := spec.Lookup(name)
		if !known {
			continue
		}

		if !opt.Writable() {
			errs.Add(sessionerrors.NewConfigurationError(name, ErrNotWritable))

			continue
		}

		value, err := coerce(opt.Type, values[name])
		if err != nil {
			errs.Add(sessionerrors.NewConfigurationError(name, err))

			continue
		}

		accepted[name] = value
	}

	if errs.HasError() {
		return errs.GetError()
	}

	if configurer, ok := i.impl.(Configurer); ok {
		if err := configurer.Configure(accepted.Clone()); err != nil {
			if !errors.Is(err, sessionerrors.ErrConfiguration) {
				err = fmt.Errorf("%w: %w", sessionerrors.ErrConfiguration, err)
			}

			return err
		}
	}

	i.config = accepted
	i.updateConfigured()

	logger.Get(i.context(context.Background())).Debug("item configured",
		"options", accepted.Keys(),
		"configured", i.flags&FlagConfigured != 0)

	return nil
}

func (i *Item) provided(opt OptionSpec) (any, bool) {
	if !opt.Provided() {
		return nil, false
	}

	provider, ok := i.impl.(Provider)
	if !ok {
		return nil, false
	}

	return provider.Provided(opt.Name)
}

func (i *Item) requiredSatisfied() bool {
	for _, opt := range i.impl.ConfigSpec() {
		if !opt.Required() {
			continue
		}

		if _, ok := i.config[opt.Name]; ok {
			continue
		}

		if _, ok := i.provided(opt); !ok {
			return false
		}
	}

	return true
}

func (i *Item) updateConfigured() {
	if i.requiredSatisfied() {
		i.flags |= FlagConfigured
	} else {
		i.flags &^= FlagConfigured
	}
}

// Configuration returns the stored options plus the provided values
// currently in effect for options that were not set.
func (i *Item) Configuration() Values {
	out := i.config.Clone()

	for _, opt := range i.impl.ConfigSpec() {
		if _, ok := out[opt.Name]; ok {
			continue
		}

		if v, ok := i.provided(opt); ok {
			out[opt.Name] = v
		}
	}

	return out
}

// Activate starts activating the item and reports the outcome to
// completion, exactly once.
//
// It fails synchronously if the item is in error (Reset first) or
// destroyed. An active item completes immediately. While an activation is
// in flight, completion joins it instead of starting another one; a joined
// completion fails with ErrDestroyed if the item is destroyed first.
func (i *Item) Activate(ctx context.Context, completion func(error)) error {
	fut, err := i.ActivateFuture(ctx)
	if err != nil {
		return err
	}

	if completion != nil {
		fut.OnResult(func(_ struct{}, err error) {
			completion(err)
		})
	}

	return nil
}

// ActivateFuture is Activate returning the attempt's future instead of
// taking a callback.
func (i *Item) ActivateFuture(ctx context.Context) (*future.Future[struct{}], error) {
	if i.destroyed {
		return nil, sessionerrors.Destroyed("item " + i.id)
	}

	switch i.state {
	case StateError:
		return nil, sessionerrors.NewPreconditionError("activate", "in error; reset first")
	case StateActive:
		return future.Resolved(struct{}{}), nil
	case StateActivating:
		return i.activation.join(), nil
	case StateIdle:
	}

	a := &Activation{item: i}
	a.fut, a.promise = future.New[struct{}]()

	gen := i.generation.Load()
	alive := func() bool {
		return !i.destroyed && i.generation.Load() == gen
	}

	a.t = transition.New(i.context(ctx), i.kind, &stepper{a: a}, a.finish, transition.WithLiveness(alive))

	i.activation = a
	i.setState(StateActivating)

	a.t.Advance()

	return a.fut, nil
}

// Reset returns the item to its unconfigured, idle baseline: the stored
// configuration is discarded, the item is no longer active, exported or in
// error, and custom flags are cleared unless the Impl preserves them.
//
// Reset refuses to run while an activation is in flight.
func (i *Item) Reset() error {
	if i.destroyed {
		return sessionerrors.Destroyed("item " + i.id)
	}

	if i.state == StateActivating {
		return sessionerrors.NewPreconditionError("reset", i.state.String())
	}

	if resetter, ok := i.impl.(Resetter); ok {
		resetter.Reset()
	}

	var preserved Flags
	if preserver, ok := i.impl.(FlagPreserver); ok {
		preserved = preserver.PreservedFlags() & customMask
	}

	i.flags &= preserved
	i.exported = false
	i.config = Values{}

	i.setState(StateIdle)

	return nil
}

// Destroy releases the item. An activation in flight is abandoned without
// the starter's completion ever being invoked; callers that joined it, and
// items waiting on it through WaitItem, fail with ErrDestroyed.
func (i *Item) Destroy() {
	if i.destroyed {
		return
	}

	i.destroyed = true
	i.generation.Inc()
	i.activation = nil

	logger.Get(i.context(context.Background())).Debug("item destroyed")

	callbacks := i.onDestroyed
	i.onDestroyed = nil

	for _, cb := range callbacks {
		cb()
	}
}
