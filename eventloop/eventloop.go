// Package eventloop provides the single logical thread of control on which
// all transitions, proxy resolutions and policy recomputations run.
//
// A Loop owns one goroutine that executes posted tasks strictly one at a
// time, in the order they were posted. Anything that wants to touch session
// objects from another goroutine (a transport reader, a test) posts a task
// instead of touching them directly.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/amp-labs/amp-session/logger"
	"go.uber.org/atomic"
)

var (
	// ErrStopped is returned when posting to a loop that is not running.
	ErrStopped = errors.New("event loop is stopped")
	// ErrTaskPanic is returned by Call when the task panicked.
	ErrTaskPanic = errors.New("panic in event loop task")
)

// Loop is a single-goroutine task executor.
type Loop struct {
	name  string
	alive *atomic.Bool

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a loop. It does nothing until Run is called.
func New(name string) *Loop {
	return &Loop{
		name:  name,
		alive: atomic.NewBool(false),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
}

// Name returns the loop's name.
func (l *Loop) Name() string {
	return l.name
}

// Alive returns true while the loop goroutine is running.
func (l *Loop) Alive() bool {
	return l.alive.Load()
}

// Run starts the loop goroutine. The loop runs until ctx is canceled or Stop
// is called; tasks still queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	subsystem := logger.GetSubsystem(ctx)

	l.wg.Add(1)
	l.alive.Store(true)
	aliveLoops.WithLabelValues(subsystem, l.name).Inc()

	go func() {
		defer l.wg.Done()
		defer aliveLoops.WithLabelValues(subsystem, l.name).Dec()
		defer l.alive.Store(false)

		for {
			select {
			case <-ctx.Done():
				l.Stop()

				return
			case <-l.quit:
				return
			case <-l.wake:
				l.drain(ctx, subsystem)
			}
		}
	}()
}

func (l *Loop) drain(ctx context.Context, subsystem string) {
	for {
		l.mu.Lock()

		if l.stopped || len(l.queue) == 0 {
			l.mu.Unlock()

			return
		}

		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		queueDepth.WithLabelValues(subsystem, l.name).Set(float64(len(l.queue)))

		l.mu.Unlock()

		start := time.Now()

		l.runTask(ctx, subsystem, task)

		processedTasks.WithLabelValues(subsystem, l.name).Inc()
		processingTime.WithLabelValues(subsystem, l.name).Observe(time.Since(start).Seconds())
	}
}

func (l *Loop) runTask(ctx context.Context, subsystem string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			taskPanics.WithLabelValues(subsystem, l.name).Inc()

			logger.Get(ctx).Error("event loop recovered from panic",
				"loop", l.name,
				"error", r,
				"stack", string(debug.Stack()))
		}
	}()

	task()
}

// Post queues task for execution on the loop goroutine. It never blocks, so
// tasks may post further tasks.
func (l *Loop) Post(task func()) error {
	l.mu.Lock()

	if l.stopped {
		l.mu.Unlock()

		return ErrStopped
	}

	l.queue = append(l.queue, task)
	l.mu.Unlock()

	postedTasks.WithLabelValues(logger.GetSubsystem(context.Background()), l.name).Inc()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return nil
}

// Call runs task on the loop and waits for it to return. It must not be used
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, task func() error) error {
	result := make(chan error, 1)

	err := l.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("%w %s: %v", ErrTaskPanic, l.name, r)
			}
		}()

		result <- task()
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Stop shuts the loop down. Safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}

	l.stopped = true
	l.queue = nil

	close(l.quit)
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}
