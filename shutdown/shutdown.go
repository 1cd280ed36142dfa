// Package shutdown turns SIGINT and SIGTERM into an orderly stop of the
// session daemon.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/amp-labs/amp-session/logger"
)

// Handler runs registered hooks, newest first, before canceling its context.
type Handler struct {
	mut     sync.Mutex
	hooks   []func()
	signals chan os.Signal
	once    sync.Once
}

// New creates a handler. Nothing listens for signals until Context is called.
func New() *Handler {
	return &Handler{signals: make(chan os.Signal, 1)}
}

// BeforeShutdown registers h to run before the context is canceled. Hooks
// registered later run first, so a component can rely on what it was built
// on still being alive.
func (s *Handler) BeforeShutdown(h func()) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.hooks = append(s.hooks, h)
}

// Shutdown starts the shutdown as if a signal had been received.
func (s *Handler) Shutdown() {
	select {
	case s.signals <- os.Interrupt:
	default:
	}
}

// Context returns a child of parent canceled after the first SIGINT or
// SIGTERM, or Shutdown, once every hook has returned.
func (s *Handler) Context(parent context.Context) context.Context {
	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer cancel()
		defer signal.Stop(s.signals)

		select {
		case sig := <-s.signals:
			logger.Get(ctx).Warn("received " + sig.String() + ", shutting down")
			s.cleanup()
		case <-parent.Done():
		}
	}()

	return ctx
}

func (s *Handler) cleanup() {
	s.once.Do(func() {
		s.mut.Lock()
		hooks := s.hooks
		s.hooks = nil
		s.mut.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	})
}
