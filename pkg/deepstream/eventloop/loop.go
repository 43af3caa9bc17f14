// Package eventloop provides the single-goroutine executor that owns all
// client state. Socket readers, timers and public API calls never touch
// state directly; they Post a closure and the loop runs closures one at a
// time in the order they were posted.
package eventloop

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loop is a FIFO queue of closures run by a single goroutine.
//
// In production Run drives the loop. Tests skip Run and call Drain after
// each step, which makes every interleaving explicit and deterministic.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running bool
}

// New creates an idle Loop. A nil logger is replaced by a no-op logger.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Post queues fn to run on the loop. It is safe to call from any goroutine,
// including from a closure already running on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Drain runs queued closures, including ones posted while draining, until
// the queue is empty. It returns how many closures ran.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.queue = nil
			l.mu.Unlock()
			return ran
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
		ran++
	}
}

// Pending returns the number of closures waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run drives the loop until ctx is cancelled. Closures still queued at
// cancellation are dropped.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		l.logger.Warn("Event loop is already running")
		return
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic in event loop callback", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
