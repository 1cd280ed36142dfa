// Package loopback is an in-process stand-in for the remote server.
//
// Server implements proxy.Transport, proxy.Exporter and
// proxy.PropertySetter. Requests are processed in order by a single pond
// worker, like a real server thread, and every reply is posted back to the
// event loop owning the proxies. Nothing is delivered synchronously, so code
// exercised against a Server sees the same suspensions it would see over a
// socket.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-session/eventloop"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/proxy"
)

// Remote interface names of announced objects.
const (
	NodeInterface   = "Node"
	ClientInterface = "Client"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("loopback server closed")

// ErrUnknownObject is returned for ids the server never assigned or already destroyed.
var ErrUnknownObject = errors.New("unknown remote object")

type object struct {
	iface string
	props map[string]string
}

// Server is an in-memory remote peer. Its exported methods are safe to call
// from any goroutine; proxies are only touched on the loop.
type Server struct {
	loop *eventloop.Loop
	pool pond.Pool

	mu         sync.Mutex
	nextID     uint32
	objects    map[uint32]*object
	failExport error
	failSync   error
	stalled    bool
	held       []func()
	closed     bool

	// Loop-owned.
	proxies   map[uint32]*proxy.Proxy
	listeners map[string][]func(*proxy.Proxy)
}

// New creates a server delivering replies on loop.
func New(loop *eventloop.Loop) *Server {
	return &Server{
		loop:    loop,
		pool:    pond.NewPool(1),
		objects: map[uint32]*object{},
		proxies:   map[uint32]*proxy.Proxy{},
		listeners: map[string][]func(*proxy.Proxy){},
	}
}

// Close stops the server after the requests already queued are processed.
// Safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()

	if closed {
		return
	}

	s.pool.StopAndWait()
}

// submit queues work on the server thread.
func (s *Server) submit(work func()) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}

	return s.pool.Go(work)
}

// reply posts fn to the loop, or holds it while the server is stalled.
func (s *Server) reply(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stalled {
		s.held = append(s.held, fn)

		return
	}

	s.post(fn)
}

// post must be called with mu held, which keeps replies in order.
func (s *Server) post(fn func()) {
	if err := s.loop.Post(fn); err != nil {
		logger.Get().Debug("loopback reply dropped", "error", err)
	}
}

func (s *Server) allocate(iface string, props map[string]string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.objects[s.nextID] = &object{iface: iface, props: maps.Clone(props)}

	return s.nextID
}

// release forgets an exported object whose owner destroyed its proxy.
func (s *Server) release(id uint32) {
	delete(s.proxies, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, id)
}

// Stall holds every reply until Stall(false) is called, which delivers the
// held replies in order.
func (s *Server) Stall(stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stalled = stalled
	if stalled {
		return
	}

	for _, fn := range s.held {
		s.post(fn)
	}

	s.held = nil
}

// FailExport makes the server reject every export until called with nil.
// A rejected export is destroyed instead of bound.
func (s *Server) FailExport(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failExport = err
}

// FailRoundtrips makes the server reject every round trip until called with nil.
func (s *Server) FailRoundtrips(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failSync = err
}

// Object returns the interface and properties of a live remote object.
func (s *Server) Object(id uint32) (string, map[string]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return "", nil, false
	}

	return obj.iface, maps.Clone(obj.props), true
}

// Objects returns the ids of live objects implementing iface.
func (s *Server) Objects(iface string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint32

	for id, obj := range s.objects {
		if obj.iface == iface {
			ids = append(ids, id)
		}
	}

	return ids
}

// OnNodeAdded registers cb to receive a proxy for every announced node. It
// must be called on the loop.
func (s *Server) OnNodeAdded(cb func(*proxy.Proxy)) {
	s.listeners[NodeInterface] = append(s.listeners[NodeInterface], cb)
}

// OnClientAdded registers cb to receive a proxy for every connected client.
// It must be called on the loop.
func (s *Server) OnClientAdded(cb func(*proxy.Proxy)) {
	s.listeners[ClientInterface] = append(s.listeners[ClientInterface], cb)
}

// AddNode announces a node with the given properties and returns its id.
// Listeners get the node proxy on the loop, before it is bound.
func (s *Server) AddNode(props map[string]string) (uint32, error) {
	return s.announce(NodeInterface, props)
}

// AddClient announces a connected client with the given properties and
// returns its id. Clients accept property updates, which is how their
// permissions are changed.
func (s *Server) AddClient(props map[string]string) (uint32, error) {
	return s.announce(ClientInterface, props)
}

func (s *Server) announce(iface string, props map[string]string) (uint32, error) {
	id := s.allocate(iface, props)
	props = maps.Clone(props)

	err := s.submit(func() {
		s.reply(func() {
			p := proxy.New(iface, s)
			s.proxies[id] = p

			for _, cb := range s.listeners[iface] {
				cb(p)
			}

			p.HandleEvent(proxy.Event{Kind: proxy.EventBound, GlobalID: id})
			p.HandleEvent(proxy.Event{Kind: proxy.EventInfo, Properties: props})
		})
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// DestroyRemote destroys a remote object and notifies its proxy.
func (s *Server) DestroyRemote(id uint32) error {
	s.mu.Lock()
	_, ok := s.objects[id]
	delete(s.objects, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}

	return s.submit(func() {
		s.reply(func() {
			if p, ok := s.proxies[id]; ok {
				delete(s.proxies, id)
				p.HandleEvent(proxy.Event{Kind: proxy.EventDestroyed})
			}
		})
	})
}

// Export implements proxy.Exporter. Destroying the returned proxy destroys
// the exported object.
func (s *Server) Export(ctx context.Context, iface string, props map[string]string) (*proxy.Proxy, error) {
	p := proxy.New(iface, s)
	props = maps.Clone(props)

	err := s.submit(func() {
		s.mu.Lock()
		failure := s.failExport
		s.mu.Unlock()

		if failure != nil {
			logger.Get(ctx).Debug("loopback export rejected", "interface", iface, "error", failure)

			s.reply(func() {
				p.HandleEvent(proxy.Event{Kind: proxy.EventDestroyed})
			})

			return
		}

		id := s.allocate(iface, props)

		s.reply(func() {
			s.proxies[id] = p
			p.OnDestroyed(func() { s.release(id) })
			p.HandleEvent(proxy.Event{Kind: proxy.EventBound, GlobalID: id})
			p.HandleEvent(proxy.Event{Kind: proxy.EventInfo, Properties: props})
		})
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Roundtrip implements proxy.Transport.
func (s *Server) Roundtrip(p *proxy.Proxy, seq uint32) error {
	return s.submit(func() {
		s.mu.Lock()
		failure := s.failSync
		s.mu.Unlock()

		ev := proxy.Event{Kind: proxy.EventDone, Seq: seq}
		if failure != nil {
			ev = proxy.Event{Kind: proxy.EventError, Seq: seq, Err: failure}
		}

		s.reply(func() {
			p.HandleEvent(ev)
		})
	})
}

// SetProperties implements proxy.PropertySetter. The new values are stored
// and echoed back as a property event.
func (s *Server) SetProperties(p *proxy.Proxy, props map[string]string) error {
	id, ok := p.GlobalID()
	if !ok {
		return fmt.Errorf("%w: proxy is not bound", ErrUnknownObject)
	}

	return s.submit(func() {
		s.mu.Lock()
		obj, ok := s.objects[id]
		if ok {
			maps.Copy(obj.props, props)
		}
		s.mu.Unlock()

		if !ok {
			return
		}

		s.reply(func() {
			p.HandleEvent(proxy.Event{Kind: proxy.EventProperties, Properties: props})
		})
	})
}
