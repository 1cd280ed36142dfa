// Package proxy mirrors objects that live in the remote server.
//
// A Proxy's readiness is a set of Features that only grows. Callers ask for
// the features they need with RequestFeatures and get a future that resolves
// as soon as all of them are present; if they already are, it resolves
// before RequestFeatures returns. The transport feeds remote notifications
// in through HandleEvent.
//
// Proxies belong to the event loop: every method must be called from it.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/logger"
	"github.com/google/uuid"
)

// ErrNoTransport is returned by Sync on a proxy created without a transport.
var ErrNoTransport = errors.New("proxy has no transport")

// Transport carries round trips to the remote peer. Replies come back as
// EventDone or EventError through HandleEvent, in the order they were issued.
type Transport interface {
	Roundtrip(p *Proxy, seq uint32) error
}

// PropertySetter is implemented by transports that can change properties of
// remote objects. The new values come back as EventProperties.
type PropertySetter interface {
	SetProperties(p *Proxy, props map[string]string) error
}

// Exporter creates new remote objects and returns the proxies mirroring them.
// The returned proxy becomes bound later, when the peer acknowledges it.
type Exporter interface {
	Export(ctx context.Context, iface string, props map[string]string) (*Proxy, error)
}

type featureRequest struct {
	wanted  Features
	promise *future.Promise[Features]
}

type pendingSync struct {
	seq     uint32
	promise *future.Promise[struct{}]
}

// Proxy is the local mirror of one remote object.
type Proxy struct {
	iface     string
	localID   string
	transport Transport

	globalID uint32
	bound    bool
	features Features
	props    map[string]string

	requests []featureRequest
	syncs    []pendingSync
	seq      uint32

	destroyed   bool
	onDestroyed []func()
	onProps     []func(map[string]string)
}

// New creates a proxy for an object implementing iface. transport may be nil
// for proxies that never need Sync.
func New(iface string, transport Transport) *Proxy {
	return &Proxy{
		iface:     iface,
		localID:   uuid.New().String(),
		transport: transport,
		features:  FeatureProxy,
		props:     map[string]string{},
	}
}

// Interface returns the remote interface name.
func (p *Proxy) Interface() string {
	return p.iface
}

// LocalID returns an identifier unique to this proxy in this process.
func (p *Proxy) LocalID() string {
	return p.localID
}

// GlobalID returns the id assigned by the remote peer, if bound.
func (p *Proxy) GlobalID() (uint32, bool) {
	return p.globalID, p.bound
}

// Features returns the features acquired so far.
func (p *Proxy) Features() Features {
	return p.features
}

// Destroyed reports whether the proxy was destroyed.
func (p *Proxy) Destroyed() bool {
	return p.destroyed
}

// Property returns a single property.
func (p *Proxy) Property(key string) (string, bool) {
	v, ok := p.props[key]

	return v, ok
}

// Properties returns a copy of the known properties.
func (p *Proxy) Properties() map[string]string {
	return maps.Clone(p.props)
}

// OnDestroyed registers cb to run once when the proxy is destroyed. It runs
// immediately if that already happened.
func (p *Proxy) OnDestroyed(cb func()) {
	if p.destroyed {
		cb()

		return
	}

	p.onDestroyed = append(p.onDestroyed, cb)
}

// OnPropertiesChanged registers cb to run after every info or property event.
func (p *Proxy) OnPropertiesChanged(cb func(map[string]string)) {
	p.onProps = append(p.onProps, cb)
}

func (p *Proxy) destroyedErr() error {
	return sessionerrors.Destroyed(fmt.Sprintf("%s proxy %s", p.iface, p.localID))
}

// RequestFeatures returns a future resolving with the proxy's features once
// all of wanted are present. An already-satisfied request resolves before
// RequestFeatures returns. On a destroyed proxy, or if the proxy is destroyed
// first, it fails with ErrDestroyed.
func (p *Proxy) RequestFeatures(wanted Features) *future.Future[Features] {
	if p.destroyed {
		featureRequests.WithLabelValues(p.iface, "destroyed").Inc()

		return future.Failed[Features](p.destroyedErr())
	}

	if p.features.Has(wanted) {
		featureRequests.WithLabelValues(p.iface, "immediate").Inc()

		return future.Resolved(p.features)
	}

	featureRequests.WithLabelValues(p.iface, "deferred").Inc()

	fut, promise := future.New[Features]()
	p.requests = append(p.requests, featureRequest{wanted: wanted, promise: promise})

	return fut
}

// PendingFeatures returns the union of the feature sets of every request
// not yet satisfied, including bits that are already present.
func (p *Proxy) PendingFeatures() Features {
	var pending Features

	for _, req := range p.requests {
		pending = pending.Union(req.wanted)
	}

	return pending
}

// MissingFeatures returns the pending bits that are not present yet.
func (p *Proxy) MissingFeatures() Features {
	return p.features.Missing(p.PendingFeatures())
}

// Sync issues a round trip. The future resolves once the peer acknowledged it
// and every round trip issued before it on this proxy.
func (p *Proxy) Sync() *future.Future[struct{}] {
	if p.destroyed {
		return future.Failed[struct{}](p.destroyedErr())
	}

	if p.transport == nil {
		return future.Failed[struct{}](ErrNoTransport)
	}

	p.seq++
	seq := p.seq

	fut, promise := future.New[struct{}]()
	p.syncs = append(p.syncs, pendingSync{seq: seq, promise: promise})

	roundtrips.WithLabelValues(p.iface).Inc()

	if err := p.transport.Roundtrip(p, seq); err != nil {
		// The transport may have acknowledged or issued other round trips
		// before failing, so drop this one by its sequence number.
		idx := slices.IndexFunc(p.syncs, func(s pendingSync) bool { return s.seq == seq })
		if idx >= 0 {
			p.syncs = slices.Delete(p.syncs, idx, idx+1)
			promise.Failure(fmt.Errorf("roundtrip %d: %w", seq, err))
		}
	}

	return fut
}

// SetProperties asks the peer to change properties of the remote object.
// The local copy only changes when the peer reports the new values.
func (p *Proxy) SetProperties(props map[string]string) error {
	if p.destroyed {
		return p.destroyedErr()
	}

	setter, ok := p.transport.(PropertySetter)
	if !ok {
		return fmt.Errorf("%w: %s properties are read-only", sessionerrors.ErrNotImplemented, p.iface)
	}

	return setter.SetProperties(p, maps.Clone(props))
}

// HandleEvent applies a remote notification. Events for a destroyed proxy
// are ignored.
func (p *Proxy) HandleEvent(ev Event) {
	if p.destroyed {
		return
	}

	logger.Get().Debug("proxy event",
		"interface", p.iface,
		"proxy", p.localID,
		"event", ev.Kind.String())

	switch ev.Kind {
	case EventBound:
		p.globalID = ev.GlobalID
		p.bound = true
		p.addFeatures(FeatureBound)
	case EventInfo:
		p.mergeProperties(ev.Properties)
		p.addFeatures(FeatureInfo | FeatureProperties)
	case EventProperties:
		p.mergeProperties(ev.Properties)
		p.addFeatures(FeatureProperties)
	case EventFeatures:
		p.addFeatures(ev.Features)
	case EventDone:
		p.acknowledge(ev.Seq, nil)
	case EventError:
		p.acknowledge(ev.Seq, ev.Err)
	case EventDestroyed:
		p.Destroy()
	}
}

// AddFeatures marks features as acquired locally, for specialized proxies
// whose extra features do not depend on a remote notification.
func (p *Proxy) AddFeatures(features Features) {
	if p.destroyed {
		return
	}

	p.addFeatures(features)
}

func (p *Proxy) mergeProperties(props map[string]string) {
	if len(props) == 0 {
		return
	}

	maps.Copy(p.props, props)

	snapshot := maps.Clone(p.props)
	for _, cb := range p.onProps {
		cb(snapshot)
	}
}

func (p *Proxy) addFeatures(features Features) {
	if p.features.Has(features) {
		return
	}

	p.features = p.features.Union(features)

	var (
		ready     []featureRequest
		remaining []featureRequest
	)

	for _, req := range p.requests {
		if p.features.Has(req.wanted) {
			ready = append(ready, req)
		} else {
			remaining = append(remaining, req)
		}
	}

	p.requests = remaining

	for _, req := range ready {
		req.promise.Success(p.features)
	}
}

// acknowledge resolves, in issue order, every pending round trip up to seq.
// A rejection fails only the round trip it names.
func (p *Proxy) acknowledge(seq uint32, err error) {
	var ready []pendingSync

	idx := 0
	for idx < len(p.syncs) && p.syncs[idx].seq <= seq {
		ready = append(ready, p.syncs[idx])
		idx++
	}

	p.syncs = p.syncs[idx:]

	for _, s := range ready {
		if err != nil && s.seq == seq {
			s.promise.Failure(fmt.Errorf("roundtrip %d rejected: %w", seq, err))
		} else {
			s.promise.Success(struct{}{})
		}
	}
}

// Destroy releases the proxy. Pending feature requests and round trips fail
// with ErrDestroyed, the features are frozen and every later request fails.
func (p *Proxy) Destroy() {
	if p.destroyed {
		return
	}

	p.destroyed = true

	proxiesDestroyed.WithLabelValues(p.iface).Inc()

	requests, syncs, callbacks := p.requests, p.syncs, p.onDestroyed
	p.requests, p.syncs, p.onDestroyed = nil, nil, nil

	err := p.destroyedErr()

	for _, req := range requests {
		req.promise.Failure(err)
	}

	for _, s := range syncs {
		s.promise.Failure(err)
	}

	for _, cb := range callbacks {
		cb()
	}
}
