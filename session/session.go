// Package session implements the session object shared with the remote
// server. Besides the proxy features it publishes which endpoint is the
// default for each media class; the policy writes those and clients read
// them.
package session

import (
	"context"
	"fmt"
	"slices"

	"facette.io/natsort"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/proxy"
)

// Interface is the remote interface name of the session object.
const Interface = "Session"

// FeatureDefaultEndpoint is set once the default endpoint store is usable.
const FeatureDefaultEndpoint = proxy.FeatureLast

// DefaultEndpointType selects one of the default endpoint slots.
type DefaultEndpointType int

const (
	AudioSource DefaultEndpointType = iota
	AudioSink
	VideoSource
)

// DefaultEndpointTypes lists every slot.
var DefaultEndpointTypes = []DefaultEndpointType{AudioSource, AudioSink, VideoSource} //nolint:gochecknoglobals

var mediaClasses = map[DefaultEndpointType]string{ //nolint:gochecknoglobals
	AudioSource: "Audio/Source",
	AudioSink:   "Audio/Sink",
	VideoSource: "Video/Source",
}

// MediaClass returns the media class of the endpoints eligible for the slot.
func (t DefaultEndpointType) MediaClass() string {
	if mc, ok := mediaClasses[t]; ok {
		return mc
	}

	return ""
}

func (t DefaultEndpointType) String() string {
	switch t {
	case AudioSource:
		return "audio-source"
	case AudioSink:
		return "audio-sink"
	case VideoSource:
		return "video-source"
	default:
		return fmt.Sprintf("DefaultEndpointType(%d)", int(t))
	}
}

// ParseMediaClass returns the slot for a media class.
func ParseMediaClass(mediaClass string) (DefaultEndpointType, bool) {
	for t, mc := range mediaClasses {
		if mc == mediaClass {
			return t, true
		}
	}

	return 0, false
}

// MediaClasses returns the media classes of every slot in natural order.
func MediaClasses() []string {
	out := make([]string, 0, len(mediaClasses))
	for _, mc := range mediaClasses {
		out = append(out, mc)
	}

	natsort.Sort(out)

	return out
}

// Session is the local side of the session object. Id 0 means no default.
type Session struct {
	proxy     *proxy.Proxy
	defaults  map[DefaultEndpointType]uint32
	observers []func(t DefaultEndpointType, id uint32)
}

// New wraps p, which must mirror an object implementing Interface.
func New(p *proxy.Proxy) *Session {
	s := &Session{
		proxy:    p,
		defaults: map[DefaultEndpointType]uint32{},
	}

	p.AddFeatures(FeatureDefaultEndpoint)

	return s
}

// Proxy returns the underlying proxy.
func (s *Session) Proxy() *proxy.Proxy {
	return s.proxy
}

// Ready returns a future resolved once the session is bound and its default
// endpoint store is usable.
func (s *Session) Ready() *future.Future[proxy.Features] {
	return s.proxy.RequestFeatures(proxy.FeatureBound | FeatureDefaultEndpoint)
}

// DefaultEndpoint returns the default endpoint id for t, or 0.
func (s *Session) DefaultEndpoint(t DefaultEndpointType) uint32 {
	return s.defaults[t]
}

// SetDefaultEndpoint records id as the default for t and notifies observers
// if it changed.
func (s *Session) SetDefaultEndpoint(t DefaultEndpointType, id uint32) {
	if s.defaults[t] == id {
		return
	}

	if id == 0 {
		delete(s.defaults, t)
	} else {
		s.defaults[t] = id
	}

	logger.Get(logger.With(context.Background(), "session", s.proxy.LocalID())).
		Debug("default endpoint changed", "type", t.String(), "id", id)

	for _, cb := range slices.Clone(s.observers) {
		cb(t, id)
	}
}

// OnDefaultEndpointChanged registers an observer.
func (s *Session) OnDefaultEndpointChanged(cb func(t DefaultEndpointType, id uint32)) {
	s.observers = append(s.observers, cb)
}
