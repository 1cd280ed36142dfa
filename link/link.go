// Package link implements the link session item, which connects the output
// of one endpoint to the input of another.
package link

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/amp-labs/amp-session/endpoint"
	"github.com/amp-labs/amp-session/item"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/transition"
)

// Interface is the remote interface name of exported links.
const Interface = "EndpointLink"

// Kind is the item kind of links.
const Kind = "link"

// Option names.
const (
	OptionOutput  = "output"
	OptionInput   = "input"
	OptionPassive = "passive"
)

// Link properties.
const (
	PropOutput  = "link.output.endpoint"
	PropInput   = "link.input.endpoint"
	PropPassive = "link.passive"
)

// ErrUnboundEndpoint fails a link whose endpoint has no global id after activation.
var ErrUnboundEndpoint = errors.New("endpoint has no global id")

const (
	stepOutput = transition.StepCustomStart + iota
	stepInput
	stepExport
	stepWaitBound
)

// Link is a session item exporting an EndpointLink. Both endpoints are
// activated as dependencies; the link does not own them.
type Link struct {
	*item.Item

	output   *endpoint.Endpoint
	input    *endpoint.Endpoint
	exporter proxy.Exporter
	remote   *proxy.Proxy
}

// impl holds the item hooks. A named field keeps Item.Configure from being
// promoted into it as the Configurer hook.
type impl struct {
	link *Link
}

// New creates a link from output to input.
func New(output, input *endpoint.Endpoint, exporter proxy.Exporter) *Link {
	l := &Link{output: output, input: input, exporter: exporter}
	l.Item = item.New(Kind, impl{l})

	return l
}

// Output returns the output endpoint.
func (l *Link) Output() *endpoint.Endpoint { return l.output }

// Input returns the input endpoint.
func (l *Link) Input() *endpoint.Endpoint { return l.input }

// Remote returns the exported link proxy, nil before the export.
func (l *Link) Remote() *proxy.Proxy { return l.remote }

// ID returns the global id of the exported link, or 0.
func (l *Link) ID() uint32 {
	if l.remote == nil {
		return 0
	}

	id, _ := l.remote.GlobalID()

	return id
}

// Passive reports whether the link was configured as passive.
func (l *Link) Passive() bool {
	passive, _ := l.Configuration().Bool(OptionPassive)

	return passive
}

// Destroy releases the link and its exported object. The endpoints are left alone.
func (l *Link) Destroy() {
	l.Item.Destroy()

	if l.remote != nil {
		l.remote.Destroy()
		l.remote = nil
	}
}

func (h impl) ConfigSpec() item.ConfigSpec {
	return item.ConfigSpec{
		{Name: OptionOutput, Type: item.TypeUint32, Flags: item.OptionProvided},
		{Name: OptionInput, Type: item.TypeUint32, Flags: item.OptionProvided},
		{Name: OptionPassive, Type: item.TypeBool, Flags: item.OptionWritable},
	}
}

func (h impl) Provided(name string) (any, bool) {
	var ep *endpoint.Endpoint

	switch name {
	case OptionOutput:
		ep = h.link.output
	case OptionInput:
		ep = h.link.input
	default:
		return nil, false
	}

	if id := ep.ID(); id != 0 {
		return id, true
	}

	return nil, false
}

func (h impl) Reset() {
	if h.link.remote != nil {
		h.link.remote.Destroy()
		h.link.remote = nil
	}
}

func (h impl) NextStep(a *item.Activation, step transition.Step) transition.Step {
	switch step {
	case transition.StepNone:
		return stepOutput
	case stepOutput:
		return stepInput
	case stepInput:
		if a.Item().Exported() && h.link.remote != nil && !h.link.remote.Destroyed() {
			return stepWaitBound
		}

		return stepExport
	case stepExport:
		return stepWaitBound
	case stepWaitBound:
		return transition.StepNone
	default:
		return transition.StepInvalid
	}
}

func (h impl) ExecuteStep(a *item.Activation, step transition.Step) {
	switch step {
	case stepOutput:
		a.WaitItem(h.link.output.Item)
	case stepInput:
		a.WaitItem(h.link.input.Item)
	case stepExport:
		h.export(a)
	case stepWaitBound:
		a.WaitFeatures(h.link.remote, proxy.FeatureBound)
	}
}

func (h impl) export(a *item.Activation) {
	cfg := a.Item().Configuration()

	out, okOut := cfg.Uint32(OptionOutput)
	in, okIn := cfg.Uint32(OptionInput)

	if !okOut || !okIn {
		a.Fail(fmt.Errorf("%w: output %d, input %d", ErrUnboundEndpoint, out, in))

		return
	}

	passive, _ := cfg.Bool(OptionPassive)

	remote, err := h.link.exporter.Export(a.Context(), Interface, map[string]string{
		PropOutput:  strconv.FormatUint(uint64(out), 10),
		PropInput:   strconv.FormatUint(uint64(in), 10),
		PropPassive: strconv.FormatBool(passive),
	})
	if err != nil {
		a.Fail(fmt.Errorf("export link %d -> %d: %w", out, in, err))

		return
	}

	h.link.remote = remote
	a.SetExported()

	logger.Get(a.Context()).Debug("link exported", "output", out, "input", in, "passive", passive)

	a.Advance()
}
