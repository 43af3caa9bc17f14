// Package subutils provides event.Subscriber wrappers: asynchronous
// delivery, logging and transforms.
package subutils

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tsarna/deepstream/pkg/deepstream/event"
)

var (
	ErrQueueFull        = errors.New("subscriber queue is full")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

type callKind int

const (
	callSubscribe callKind = iota
	callUnsubscribe
	callEvent
)

type queuedCall struct {
	kind callKind
	ctx  context.Context
	name string
	data any
}

// AsyncQueueingSubscriber hands calls to the wrapped subscriber on its own
// goroutine through a bounded queue, so a slow subscriber does not hold up
// the client's event loop. Calls are delivered in order. When the queue is
// full the call fails with ErrQueueFull, which the event handler logs.
type AsyncQueueingSubscriber struct {
	wrapped   event.Subscriber
	logger    *zap.Logger
	queue     chan queuedCall
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncQueueingSubscriber wraps wrapped with a queue of queueSize calls
// (100 if not positive). Call Start to begin delivery and Close to drain
// and stop.
func NewAsyncQueueingSubscriber(wrapped event.Subscriber, queueSize int) *AsyncQueueingSubscriber {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &AsyncQueueingSubscriber{
		wrapped: wrapped,
		logger:  zap.NewNop(),
		queue:   make(chan queuedCall, queueSize),
		done:    make(chan struct{}),
	}
}

// WithLogger sets where errors returned by the wrapped subscriber are
// logged. It must be called before Start.
func (a *AsyncQueueingSubscriber) WithLogger(logger *zap.Logger) *AsyncQueueingSubscriber {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Start begins delivering queued calls in a background goroutine.
func (a *AsyncQueueingSubscriber) Start() *AsyncQueueingSubscriber {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

func (a *AsyncQueueingSubscriber) process(call queuedCall) {
	var err error
	switch call.kind {
	case callSubscribe:
		err = a.wrapped.OnSubscribe(call.ctx, call.name)
	case callUnsubscribe:
		err = a.wrapped.OnUnsubscribe(call.ctx, call.name)
	case callEvent:
		err = a.wrapped.OnEvent(call.ctx, call.name, call.data)
	}
	if err != nil {
		a.logger.Warn("Subscriber error", zap.String("name", call.name), zap.Error(err))
	}
}

func (a *AsyncQueueingSubscriber) processQueue() {
	defer a.wg.Done()
	for {
		select {
		case call := <-a.queue:
			a.process(call)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) drainQueue() {
	for {
		select {
		case call := <-a.queue:
			a.process(call)
		default:
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) enqueue(call queuedCall) error {
	if a.IsClosed() {
		return ErrSubscriberClosed
	}
	select {
	case a.queue <- call:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *AsyncQueueingSubscriber) OnSubscribe(ctx context.Context, name string) error {
	return a.enqueue(queuedCall{kind: callSubscribe, ctx: ctx, name: name})
}

func (a *AsyncQueueingSubscriber) OnUnsubscribe(ctx context.Context, name string) error {
	return a.enqueue(queuedCall{kind: callUnsubscribe, ctx: ctx, name: name})
}

func (a *AsyncQueueingSubscriber) OnEvent(ctx context.Context, name string, data any) error {
	return a.enqueue(queuedCall{kind: callEvent, ctx: ctx, name: name, data: data})
}

// Close stops accepting calls, delivers what is already queued and waits
// for the delivery goroutine to finish.
func (a *AsyncQueueingSubscriber) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

func (a *AsyncQueueingSubscriber) QueueSize() int {
	return len(a.queue)
}

func (a *AsyncQueueingSubscriber) QueueCapacity() int {
	return cap(a.queue)
}

func (a *AsyncQueueingSubscriber) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
