// Package device turns the audio nodes announced by the server into
// endpoints.
//
// Monitor waits until each new node is fully described, skips nodes that are
// not plain audio devices, then creates, configures and activates an
// endpoint for it. Active endpoints are added to a registry, where the
// default endpoint policy finds them; they are removed again when their node
// goes away.
package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/amp-labs/amp-session/endpoint"
	"github.com/amp-labs/amp-session/item"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/registry"
)

// Node property keys read by the monitor.
const (
	PropNodeName   = "node.name"
	PropMediaClass = "media.class"
)

// Monitor creates an endpoint per audio node. It runs on the event loop.
type Monitor struct {
	ctx       context.Context //nolint:containedctx
	exporter  proxy.Exporter
	registry  *registry.Registry[*endpoint.Endpoint]
	rules     []Rule
	endpoints map[*proxy.Proxy]*endpoint.Endpoint
	onFailed  []func(node *proxy.Proxy, err error)
}

// NewMonitor creates a monitor exporting endpoints through exporter and
// publishing them in reg.
func NewMonitor(
	ctx context.Context,
	exporter proxy.Exporter,
	reg *registry.Registry[*endpoint.Endpoint],
	rules []Rule,
) *Monitor {
	return &Monitor{
		ctx:       logger.WithSubsystem(ctx, "device"),
		exporter:  exporter,
		registry:  reg,
		rules:     rules,
		endpoints: map[*proxy.Proxy]*endpoint.Endpoint{},
	}
}

// OnFailed registers cb to hear about nodes whose endpoint could not be activated.
func (m *Monitor) OnFailed(cb func(node *proxy.Proxy, err error)) {
	m.onFailed = append(m.onFailed, cb)
}

// Endpoint returns the endpoint created for node, if any.
func (m *Monitor) Endpoint(node *proxy.Proxy) (*endpoint.Endpoint, bool) {
	ep, ok := m.endpoints[node]

	return ep, ok
}

// NodeAdded handles a newly announced node.
func (m *Monitor) NodeAdded(node *proxy.Proxy) {
	node.RequestFeatures(proxy.FeatureBound | proxy.FeatureInfo).OnResult(func(_ proxy.Features, err error) {
		if err != nil {
			logger.Get(m.ctx).Debug("node vanished before it was described", "error", err)

			return
		}

		m.describe(node)
	})
}

// IsAudioDevice reports whether a node of mediaClass gets an endpoint.
func IsAudioDevice(mediaClass string) bool {
	return strings.HasPrefix(mediaClass, "Audio/") && !strings.HasPrefix(mediaClass, "Audio/DSP")
}

func (m *Monitor) describe(node *proxy.Proxy) {
	mediaClass, _ := node.Property(PropMediaClass)
	if !IsAudioDevice(mediaClass) {
		return
	}

	id, _ := node.GlobalID()
	name, _ := node.Property(PropNodeName)

	values := item.Values{
		endpoint.OptionName:       fmt.Sprintf("Endpoint %d: %s", id, name),
		endpoint.OptionMediaClass: mediaClass,
	}

	if priority, ok := priorityFor(m.rules, name, mediaClass); ok {
		values[endpoint.OptionPriority] = priority
	}

	ep := endpoint.New(node, m.exporter)

	if err := ep.Configure(values); err != nil {
		m.fail(node, ep, err)

		return
	}

	m.endpoints[node] = ep

	node.OnDestroyed(func() { m.nodeRemoved(node) })

	err := ep.Activate(m.ctx, func(err error) {
		if err != nil {
			m.fail(node, ep, err)

			return
		}

		logger.Get(m.ctx).Debug("endpoint ready", "name", ep.Name(), "id", ep.ID(), "priority", ep.Priority())

		m.registry.Add(ep)
	})
	if err != nil {
		m.fail(node, ep, err)
	}
}

func (m *Monitor) fail(node *proxy.Proxy, ep *endpoint.Endpoint, err error) {
	logger.Get(m.ctx).Debug("could not create endpoint", "error", err)

	if m.endpoints[node] == ep {
		delete(m.endpoints, node)
	}

	ep.Destroy()

	for _, cb := range m.onFailed {
		cb(node, err)
	}
}

func (m *Monitor) nodeRemoved(node *proxy.Proxy) {
	ep, ok := m.endpoints[node]
	if !ok {
		return
	}

	delete(m.endpoints, node)

	// Remove before destroying so the policy can still read the id.
	m.registry.Remove(ep)
	ep.Destroy()

	logger.Get(m.ctx).Debug("endpoint removed", "name", ep.Name())
}
