// Package daemon assembles a session process: an event loop, the server
// connection, the session object, the device monitor, client permissions
// and the default endpoint policy.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/amp-labs/amp-session/client"
	"github.com/amp-labs/amp-session/config"
	"github.com/amp-labs/amp-session/device"
	"github.com/amp-labs/amp-session/endpoint"
	"github.com/amp-labs/amp-session/eventloop"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/item"
	"github.com/amp-labs/amp-session/link"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/loopback"
	"github.com/amp-labs/amp-session/policy"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/registry"
	"github.com/amp-labs/amp-session/session"
)

// Component types announcing remote objects on startup. Their args become
// the object properties.
const (
	NodeComponentType   = "node"
	ClientComponentType = "client"
)

// ErrNoEndpoint is returned by Link for ids that name no registered endpoint.
var ErrNoEndpoint = errors.New("no such endpoint")

// Daemon is a running session process. Loop-owned fields must only be
// touched through Call.
type Daemon struct {
	Loop   *eventloop.Loop
	Server *loopback.Server

	Session   *session.Session
	Endpoints *registry.Registry[*endpoint.Endpoint]
	Monitor   *device.Monitor
	Clients   *client.Permissions
	Policy    *policy.DefaultEndpoints[*endpoint.Endpoint]
}

// Start brings up a daemon with the given components and waits until the
// session is exported. Nodes declared in components are announced afterwards.
func Start(ctx context.Context, components []config.Component) (*Daemon, error) {
	ctx = logger.WithSubsystem(ctx, "daemon")

	rules, err := device.RulesFromComponents(components)
	if err != nil {
		return nil, err
	}

	loop := eventloop.New("session")
	loop.Run(ctx)

	d := &Daemon{
		Loop:      loop,
		Server:    loopback.New(loop),
		Endpoints: registry.New[*endpoint.Endpoint](),
	}

	var ready *future.Future[proxy.Features]

	err = loop.Call(ctx, func() error {
		p, err := d.Server.Export(ctx, session.Interface, nil)
		if err != nil {
			return err
		}

		d.Session = session.New(p)
		d.Monitor = device.NewMonitor(ctx, d.Server, d.Endpoints, rules)
		d.Policy = policy.NewDefaultEndpoints(ctx, d.Endpoints, d.Session)

		d.Clients = client.NewPermissions(ctx)
		d.Server.OnNodeAdded(d.Monitor.NodeAdded)
		d.Server.OnClientAdded(d.Clients.ClientAdded)

		ready = d.Session.Ready()

		return nil
	})
	if err != nil {
		d.Stop()

		return nil, fmt.Errorf("starting session: %w", err)
	}

	if _, err := ready.Await(ctx); err != nil {
		d.Stop()

		return nil, fmt.Errorf("exporting session: %w", err)
	}

	for _, c := range config.OfType(components, NodeComponentType) {
		if _, err := d.Server.AddNode(nodeProperties(c)); err != nil {
			d.Stop()

			return nil, fmt.Errorf("announcing node %q: %w", c.Name, err)
		}
	}

	for _, c := range config.OfType(components, ClientComponentType) {
		if _, err := d.Server.AddClient(properties(c)); err != nil {
			d.Stop()

			return nil, fmt.Errorf("announcing client %q: %w", c.Name, err)
		}
	}

	logger.Get(ctx).Info("session daemon started", "rules", len(rules))

	return d, nil
}

func properties(c config.Component) map[string]string {
	props := make(map[string]string, len(c.Args)+1)
	for k, v := range c.Args {
		props[k] = fmt.Sprint(v)
	}

	return props
}

func nodeProperties(c config.Component) map[string]string {
	props := properties(c)

	if _, ok := props[device.PropNodeName]; !ok {
		props[device.PropNodeName] = c.Name
	}

	return props
}

// Call runs fn on the loop and waits for it.
func (d *Daemon) Call(ctx context.Context, fn func() error) error {
	return d.Loop.Call(ctx, fn)
}

// DefaultEndpoint returns the current default of t.
func (d *Daemon) DefaultEndpoint(ctx context.Context, t session.DefaultEndpointType) (uint32, error) {
	var id uint32

	err := d.Call(ctx, func() error {
		id = d.Session.DefaultEndpoint(t)

		return nil
	})

	return id, err
}

// Link connects the registered endpoints output and input and waits until
// the link is active. A link that fails to activate is destroyed.
func (d *Daemon) Link(ctx context.Context, output, input uint32, passive bool) (*link.Link, error) {
	var (
		l   *link.Link
		fut *future.Future[struct{}]
	)

	err := d.Call(ctx, func() error {
		out, ok := d.endpoint(output)
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoEndpoint, output)
		}

		in, ok := d.endpoint(input)
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoEndpoint, input)
		}

		l = link.New(out, in, d.Server)
		if err := l.Configure(item.Values{link.OptionPassive: passive}); err != nil {
			return err
		}

		var err error

		fut, err = l.ActivateFuture(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := fut.Await(ctx); err != nil {
		_ = d.Call(context.WithoutCancel(ctx), func() error {
			l.Destroy()

			return nil
		})

		return nil, fmt.Errorf("linking %d -> %d: %w", output, input, err)
	}

	return l, nil
}

func (d *Daemon) endpoint(id uint32) (*endpoint.Endpoint, bool) {
	for _, tag := range d.Endpoints.Tags() {
		for _, ep := range d.Endpoints.Objects(tag) {
			if ep.ID() == id {
				return ep, true
			}
		}
	}

	return nil, false
}

// Stop shuts the daemon down and waits for the loop to exit.
func (d *Daemon) Stop() {
	d.Server.Close()
	d.Loop.Stop()
	d.Loop.Wait()
}
