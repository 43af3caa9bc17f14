// Package limbo buffers requests made during the short window after a
// connection drops, so they can be replayed if the client reconnects in
// time and failed if it does not.
package limbo

import (
	"github.com/tsarna/deepstream/pkg/deepstream"
	"go.uber.org/zap"
)

// Entry is one buffered request.
type Entry struct {
	Replay func()
	Fail   func(err error)
}

// Queue implements deepstream.OfflineQueue. It must only be used from the
// event loop.
type Queue struct {
	services *deepstream.Services
	logger   *deepstream.Logger
	entries  []Entry
}

// NewQueue creates a Queue and hooks it to the connection lifecycle.
func NewQueue(services *deepstream.Services) *Queue {
	q := &Queue{
		services: services,
		logger:   services.Logger.Named("limbo"),
	}
	services.Connection.OnReestablished(q.replay)
	services.Connection.OnExitLimbo(q.expire)
	return q
}

// Submit buffers a request. If the connection is already back it is
// replayed at once; if limbo is already over it fails at once.
func (q *Queue) Submit(replay func(), fail func(err error)) {
	q.Add(Entry{Replay: replay, Fail: fail})
}

// Add is Submit for a prepared Entry.
func (q *Queue) Add(e Entry) {
	conn := q.services.Connection
	switch {
	case conn.IsConnected():
		e.Replay()
	case !conn.IsInLimbo():
		e.Fail(deepstream.ErrClientOffline)
	default:
		q.entries = append(q.entries, e)
	}
}

// Len returns the number of buffered requests.
func (q *Queue) Len() int {
	return len(q.entries)
}

func (q *Queue) take() []Entry {
	entries := q.entries
	q.entries = nil
	return entries
}

func (q *Queue) replay() {
	entries := q.take()
	if len(entries) > 0 {
		q.logger.Debug("Replaying buffered requests", zap.Int("count", len(entries)))
	}
	for _, e := range entries {
		e.Replay()
	}
}

func (q *Queue) expire() {
	entries := q.take()
	if len(entries) > 0 {
		q.logger.Debug("Failing buffered requests", zap.Int("count", len(entries)))
	}
	for _, e := range entries {
		e.Fail(deepstream.ErrClientOffline)
	}
}
