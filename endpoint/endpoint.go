// Package endpoint implements the endpoint session item: a routable audio
// or video end of the graph backed by one remote node.
//
// Activating an endpoint waits for its node to be fully known, exports an
// Endpoint object to the server (once per configuration) and waits until the
// server has bound and acknowledged it.
package endpoint

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/item"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/transition"
)

// Interface is the remote interface name of exported endpoints.
const Interface = "Endpoint"

// Kind is the item kind of endpoints.
const Kind = "endpoint"

// Option names.
const (
	OptionName       = "name"
	OptionMediaClass = "media-class"
	OptionPriority   = "priority"
	OptionNodeID     = "node-id"
)

// Node and endpoint property keys.
const (
	PropVolume     = "volume"
	PropMute       = "mute"
	PropMediaClass = "media.class"
	PropNodeID     = "node.id"
	PropName       = "endpoint.name"
	PropPriority   = "endpoint.priority"
)

// ErrNoControls is returned when setting a control on a non-audio endpoint.
var ErrNoControls = errors.New("endpoint has no volume controls")

const (
	stepWaitNode = transition.StepCustomStart + iota
	stepExport
	stepWaitBound
	stepSync
)

// Endpoint is a session item exporting one node as an endpoint.
type Endpoint struct {
	*item.Item

	node     *proxy.Proxy
	exporter proxy.Exporter
	remote   *proxy.Proxy

	volume   float64
	mute     bool
	controls []func(volume float64, mute bool)
}

// impl carries the item hooks so they stay out of Endpoint's method set. It
// must not embed Endpoint: Item methods would be promoted as hooks.
type impl struct {
	ep *Endpoint
}

// New creates an endpoint for node. Exports go through exporter.
func New(node *proxy.Proxy, exporter proxy.Exporter) *Endpoint {
	e := &Endpoint{
		node:     node,
		exporter: exporter,
		volume:   1,
	}

	e.Item = item.New(Kind, impl{e})
	e.volume, e.mute = parseControls(node.Properties(), e.volume, e.mute)

	node.OnPropertiesChanged(e.nodePropertiesChanged)

	return e
}

// ConfigSpec implements item.Impl.
func (h impl) ConfigSpec() item.ConfigSpec {
	return item.ConfigSpec{
		{Name: OptionName, Type: item.TypeString, Flags: item.OptionWritable | item.OptionRequired},
		{Name: OptionMediaClass, Type: item.TypeString, Flags: item.OptionWritable | item.OptionRequired},
		{Name: OptionPriority, Type: item.TypeInt, Flags: item.OptionWritable | item.OptionProvided},
		{Name: OptionNodeID, Type: item.TypeUint32, Flags: item.OptionRequired | item.OptionProvided},
	}
}

// Configure implements item.Configurer.
func (h impl) Configure(values item.Values) error {
	if mc, ok := values.String(OptionMediaClass); ok && !strings.Contains(mc, "/") {
		return sessionerrors.NewConfigurationError(OptionMediaClass,
			fmt.Errorf("%w: %q is not of the form Kind/Direction", item.ErrTypeMismatch, mc))
	}

	return nil
}

// Provided implements item.Provider.
func (h impl) Provided(name string) (any, bool) {
	switch name {
	case OptionPriority:
		return 0, true
	case OptionNodeID:
		id, ok := h.ep.node.GlobalID()
		if !ok {
			return nil, false
		}

		return id, true
	default:
		return nil, false
	}
}

// Reset implements item.Resetter. The exported object goes away with the
// configuration it was exported with.
func (h impl) Reset() {
	if h.ep.remote != nil {
		h.ep.remote.Destroy()
		h.ep.remote = nil
	}
}

// Destroy releases the endpoint and its exported object.
func (e *Endpoint) Destroy() {
	e.Item.Destroy()

	if e.remote != nil {
		e.remote.Destroy()
		e.remote = nil
	}
}

// NextStep implements item.Impl.
func (h impl) NextStep(a *item.Activation, step transition.Step) transition.Step {
	switch step {
	case transition.StepNone:
		return stepWaitNode
	case stepWaitNode:
		if a.Item().Exported() && h.ep.remote != nil && !h.ep.remote.Destroyed() {
			return stepWaitBound
		}

		return stepExport
	case stepExport:
		return stepWaitBound
	case stepWaitBound:
		return stepSync
	case stepSync:
		return transition.StepNone
	default:
		return transition.StepInvalid
	}
}

// ExecuteStep implements item.Impl.
func (h impl) ExecuteStep(a *item.Activation, step transition.Step) {
	switch step {
	case stepWaitNode:
		a.WaitFeatures(h.ep.node, proxy.FeatureBound|proxy.FeatureInfo)
	case stepExport:
		h.export(a)
	case stepWaitBound:
		a.WaitFeatures(h.ep.remote, proxy.FeatureBound)
	case stepSync:
		a.WaitSync(h.ep.remote)
	}
}

func (h impl) export(a *item.Activation) {
	if h.ep.exporter == nil {
		a.Fail(fmt.Errorf("%w: no exporter", sessionerrors.ErrNotImplemented))

		return
	}

	cfg := a.Item().Configuration()

	name, _ := cfg.String(OptionName)
	mediaClass, _ := cfg.String(OptionMediaClass)
	priority, _ := cfg.Int(OptionPriority)
	nodeID, _ := cfg.Uint32(OptionNodeID)

	props := map[string]string{
		PropName:       name,
		PropMediaClass: mediaClass,
		PropPriority:   strconv.Itoa(priority),
		PropNodeID:     strconv.FormatUint(uint64(nodeID), 10),
	}

	remote, err := h.ep.exporter.Export(a.Context(), Interface, props)
	if err != nil {
		a.Fail(fmt.Errorf("export endpoint %q: %w", name, err))

		return
	}

	h.ep.remote = remote
	a.SetExported()

	logger.Get(a.Context()).Debug("endpoint exported", "name", name, "media-class", mediaClass, "node", nodeID)

	a.Advance()
}

// ID returns the global id of the exported endpoint, or 0 before it is bound.
func (e *Endpoint) ID() uint32 {
	if e.remote == nil {
		return 0
	}

	id, _ := e.remote.GlobalID()

	return id
}

// Name returns the configured name.
func (e *Endpoint) Name() string {
	name, _ := e.Configuration().String(OptionName)

	return name
}

// Tag returns the media class, grouping endpoints in a registry.
func (e *Endpoint) Tag() string {
	mc, _ := e.Configuration().String(OptionMediaClass)

	return mc
}

// Priority returns the configured priority, 0 by default.
func (e *Endpoint) Priority() int {
	p, _ := e.Configuration().Int(OptionPriority)

	return p
}

// Node returns the node proxy.
func (e *Endpoint) Node() *proxy.Proxy {
	return e.node
}

// Remote returns the exported endpoint proxy, nil before the export.
func (e *Endpoint) Remote() *proxy.Proxy {
	return e.remote
}

// HasControls reports whether the endpoint has volume and mute controls.
// Only audio endpoints do.
func (e *Endpoint) HasControls() bool {
	return strings.HasPrefix(e.Tag(), "Audio")
}

// Volume returns the cached volume.
func (e *Endpoint) Volume() float64 {
	return e.volume
}

// Mute returns the cached mute state.
func (e *Endpoint) Mute() bool {
	return e.mute
}

// SetVolume asks the node to change its volume. Volume reflects the change
// once the node reports it.
func (e *Endpoint) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("%w: volume %v out of [0, 1]", sessionerrors.ErrWrongType, volume)
	}

	return e.setControl(PropVolume, strconv.FormatFloat(volume, 'f', -1, 64))
}

// SetMute asks the node to change its mute state.
func (e *Endpoint) SetMute(mute bool) error {
	return e.setControl(PropMute, strconv.FormatBool(mute))
}

func (e *Endpoint) setControl(key, value string) error {
	if !e.HasControls() {
		return ErrNoControls
	}

	return e.node.SetProperties(map[string]string{key: value})
}

// OnControlsChanged registers cb to run when the cached volume or mute changes.
func (e *Endpoint) OnControlsChanged(cb func(volume float64, mute bool)) {
	e.controls = append(e.controls, cb)
}

func parseControls(props map[string]string, volume float64, mute bool) (float64, bool) {
	if v, ok := props[PropVolume]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			volume = f
		}
	}

	if v, ok := props[PropMute]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			mute = b
		}
	}

	return volume, mute
}

func (e *Endpoint) nodePropertiesChanged(props map[string]string) {
	volume, mute := parseControls(props, e.volume, e.mute)

	if volume == e.volume && mute == e.mute {
		return
	}

	logger.Get().Debug("endpoint controls changed",
		"endpoint", e.Item.ID(),
		"volume", fmt.Sprintf("%v -> %v", e.volume, volume),
		"mute", fmt.Sprintf("%v -> %v", e.mute, mute))

	e.volume, e.mute = volume, mute

	for _, cb := range e.controls {
		cb(volume, mute)
	}
}

// Properties returns the node properties the endpoint was built from.
func (e *Endpoint) Properties() map[string]string {
	return maps.Clone(e.node.Properties())
}
