// Package policy chooses the default endpoint of each media class.
//
// DefaultEndpoints watches a registry of endpoints and, whenever a candidate
// appears or the current default disappears, picks the candidate with the
// highest priority. Ties go to the candidate enumerated last, so a device
// plugged in later wins over an equivalent one that was already there.
package policy

import (
	"context"

	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/registry"
	"github.com/amp-labs/amp-session/session"
)

// Candidate is an object eligible to become a default endpoint.
type Candidate interface {
	comparable
	Tag() string
	ID() uint32
	Priority() int
}

// Store records the chosen defaults. *session.Session implements it.
type Store interface {
	DefaultEndpoint(t session.DefaultEndpointType) uint32
	SetDefaultEndpoint(t session.DefaultEndpointType, id uint32)
}

// DefaultEndpoints keeps store up to date with the best candidate in reg for
// every media class. It runs on the event loop.
type DefaultEndpoints[C Candidate] struct {
	ctx    context.Context //nolint:containedctx
	reg    *registry.Registry[C]
	store  Store
	cancel []func()
}

// NewDefaultEndpoints subscribes to reg for every default endpoint type and
// selects the initial defaults from what reg already holds.
func NewDefaultEndpoints[C Candidate](ctx context.Context, reg *registry.Registry[C], store Store) *DefaultEndpoints[C] {
	d := &DefaultEndpoints[C]{
		ctx:   logger.WithSubsystem(ctx, "policy"),
		reg:   reg,
		store: store,
	}

	for _, t := range session.DefaultEndpointTypes {
		d.cancel = append(d.cancel, reg.Subscribe(t.MediaClass(),
			func(C) { d.Select(t, 0) },
			func(c C) { d.removed(t, c) }))

		d.Select(t, 0)
	}

	return d
}

// Close stops watching the registry. The recorded defaults are kept.
func (d *DefaultEndpoints[C]) Close() {
	for _, cancel := range d.cancel {
		cancel()
	}

	d.cancel = nil
}

func (d *DefaultEndpoints[C]) removed(t session.DefaultEndpointType, c C) {
	id := c.ID()
	if id == 0 || id != d.store.DefaultEndpoint(t) {
		return
	}

	d.Select(t, id)
}

// Select recomputes the default for t, never choosing exclude, and records
// it if it changed. It returns the selected id, 0 if there is no candidate.
func (d *DefaultEndpoints[C]) Select(t session.DefaultEndpointType, exclude uint32) uint32 {
	var (
		best     C
		found    bool
		priority int
	)

	for _, c := range d.reg.Objects(t.MediaClass()) {
		id := c.ID()
		if id == 0 || id == exclude {
			continue
		}

		if p := c.Priority(); !found || p >= priority {
			best, priority, found = c, p, true
		}
	}

	var selected uint32
	if found {
		selected = best.ID()
	}

	if current := d.store.DefaultEndpoint(t); current != selected {
		logger.Get(d.ctx).Debug("selected default endpoint",
			"type", t.String(),
			"previous", current,
			"id", selected,
			"priority", priority)

		d.store.SetDefaultEndpoint(t, selected)
	}

	return selected
}
