// Package deepstream holds the types shared by every part of the client:
// connection states, events, errors, options and the Services aggregate
// that wires components together without globals.
package deepstream

import (
	"time"

	"github.com/tsarna/deepstream/pkg/deepstream/eventloop"
	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"github.com/tsarna/deepstream/pkg/deepstream/timers"
)

// MessageHandler handles every message for one topic.
type MessageHandler func(msg *protocol.Message)

// TimerService schedules callbacks on the event loop.
type TimerService interface {
	Now() time.Time
	SetTimeout(fn func(), d time.Duration) timers.ID
	SetInterval(fn func(), d time.Duration) timers.ID
	Clear(id timers.ID)
}

// Connection is what feature handlers see of the connection.
type Connection interface {
	// Send encodes and writes msg, or buffers it until the connection is
	// open again.
	Send(msg *protocol.Message)
	RegisterHandler(topic protocol.Topic, handler MessageHandler)

	// OnReestablished fires every time the connection reaches OPEN.
	OnReestablished(fn func())
	// OnLost fires when an OPEN connection drops.
	OnLost(fn func())
	// OnExitLimbo fires when the offline buffer window closes without a
	// reconnect.
	OnExitLimbo(fn func())

	IsConnected() bool
	IsInLimbo() bool
	State() ConnectionState
}

// TimeoutCallback is invoked when a registered timeout fires.
type TimeoutCallback func(event Event, msg *protocol.Message)

// Timeout describes a request awaiting an acknowledgement or response.
type Timeout struct {
	Message  *protocol.Message
	Event    Event
	Duration time.Duration
	Callback TimeoutCallback
}

// TimeoutRegistry tracks outstanding requests.
type TimeoutRegistry interface {
	Add(t Timeout) timers.ID
	Remove(msg *protocol.Message)
	Clear(id timers.ID)
}

// OfflineQueue holds requests made while the connection is in limbo.
type OfflineQueue interface {
	Submit(replay func(), fail func(err error))
}

// Services is constructed once per client and handed to every component.
type Services struct {
	Options    Options
	Logger     *Logger
	Loop       *eventloop.Loop
	Timers     TimerService
	Metrics    *Metrics
	Tracing    o11y.TracingProvider
	Connection Connection
	Timeouts   TimeoutRegistry
	Offline    OfflineQueue
}
