// Package tests provides the harness shared by the package tests: a running
// event loop, a loopback server answering on it, and a context whose logger
// writes through the test's own log.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/amp-labs/amp-session/eventloop"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/loopback"
	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// Timeout bounds every wait in the harness.
const Timeout = 5 * time.Second

// GetUniqueContext returns t.Context() tagged with a unique test id and
// logging through t.
func GetUniqueContext(t *testing.T) context.Context {
	t.Helper()

	ctx := logger.WithLogger(t.Context(), slogt.New(t))

	return logger.With(ctx, "test", t.Name(), "test-id", "test-"+uuid.New().String())
}

// Harness drives code that must run on the event loop.
type Harness struct {
	T      *testing.T
	Ctx    context.Context //nolint:containedctx
	Loop   *eventloop.Loop
	Server *loopback.Server
}

// New starts a loop and a loopback server, both torn down with the test.
func New(t *testing.T) *Harness {
	t.Helper()

	ctx := GetUniqueContext(t)

	loop := eventloop.New(t.Name())
	loop.Run(ctx)

	server := loopback.New(loop)

	t.Cleanup(func() {
		server.Close()
		loop.Stop()
		loop.Wait()
	})

	return &Harness{T: t, Ctx: ctx, Loop: loop, Server: server}
}

// Do runs fn on the loop and fails the test if it returns an error.
func (h *Harness) Do(fn func() error) {
	h.T.Helper()

	ctx, cancel := context.WithTimeout(h.Ctx, Timeout)
	defer cancel()

	require.NoError(h.T, h.Loop.Call(ctx, fn))
}

// Eventually polls cond on the loop until it holds.
func (h *Harness) Eventually(cond func() bool, msg string) {
	h.T.Helper()

	require.Eventually(h.T, func() bool {
		var ok bool

		err := h.Loop.Call(h.Ctx, func() error {
			ok = cond()

			return nil
		})

		return err == nil && ok
	}, Timeout, 5*time.Millisecond, msg)
}

// Await waits off the loop for fut, which must have been obtained on it.
func Await[T any](h *Harness, fut *future.Future[T]) (T, error) {
	h.T.Helper()

	ctx, cancel := context.WithTimeout(h.Ctx, Timeout)
	defer cancel()

	return fut.Await(ctx)
}
