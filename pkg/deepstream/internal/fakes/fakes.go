// Package fakes provides deterministic stand-ins for the connection and the
// runtime services, for use by feature handler tests.
package fakes

import (
	"github.com/benbjohnson/clock"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/eventloop"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"github.com/tsarna/deepstream/pkg/deepstream/timers"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Connection records what handlers send and lets a test drive the
// connection lifecycle by hand.
type Connection struct {
	Connected  bool
	Limbo      bool
	StateValue deepstream.ConnectionState
	Sent       []*protocol.Message
	Handlers   map[protocol.Topic]deepstream.MessageHandler

	reestablished []func()
	lost          []func()
	exitLimbo     []func()
}

func NewConnection() *Connection {
	return &Connection{
		Connected:  true,
		StateValue: deepstream.StateOpen,
		Handlers:   make(map[protocol.Topic]deepstream.MessageHandler),
	}
}

func (c *Connection) Send(msg *protocol.Message) { c.Sent = append(c.Sent, msg) }

func (c *Connection) RegisterHandler(topic protocol.Topic, handler deepstream.MessageHandler) {
	c.Handlers[topic] = handler
}

func (c *Connection) OnReestablished(fn func()) { c.reestablished = append(c.reestablished, fn) }
func (c *Connection) OnLost(fn func()) { c.lost = append(c.lost, fn) }
func (c *Connection) OnExitLimbo(fn func()) { c.exitLimbo = append(c.exitLimbo, fn) }

func (c *Connection) IsConnected() bool { return c.Connected }
func (c *Connection) IsInLimbo() bool { return c.Limbo }
func (c *Connection) State() deepstream.ConnectionState { return c.StateValue }

// Lose simulates an OPEN connection dropping into limbo.
func (c *Connection) Lose() {
	c.Connected = false
	c.Limbo = true
	c.StateValue = deepstream.StateReconnecting
	for _, fn := range c.lost {
		fn()
	}
}

// ExitLimbo simulates the offline buffer window expiring.
func (c *Connection) ExitLimbo() {
	c.Limbo = false
	for _, fn := range c.exitLimbo {
		fn()
	}
}

// Reestablish simulates a successful (re)authentication.
func (c *Connection) Reestablish() {
	c.Connected = true
	c.Limbo = false
	c.StateValue = deepstream.StateOpen
	for _, fn := range c.reestablished {
		fn()
	}
}

// Deliver hands msg to the handler registered for its topic.
func (c *Connection) Deliver(msg *protocol.Message) {
	if h, ok := c.Handlers[msg.Topic]; ok {
		h(msg)
	}
}

// Last returns the most recently sent message, or nil.
func (c *Connection) Last() *protocol.Message {
	if len(c.Sent) == 0 {
		return nil
	}
	return c.Sent[len(c.Sent)-1]
}

// Take returns and forgets everything sent so far.
func (c *Connection) Take() []*protocol.Message {
	sent := c.Sent
	c.Sent = nil
	return sent
}

// Env is a manual loop, a mock clock and a fake connection wired into
// Services. Tests fill in Timeouts and Offline themselves.
type Env struct {
	Clock    *clock.Mock
	Loop     *eventloop.Loop
	Timers   *timers.Scheduler
	Conn     *Connection
	Logs     *observer.ObservedLogs
	Services *deepstream.Services
}

func NewEnv(options deepstream.Options) *Env {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	mock := clock.NewMock()
	loop := eventloop.New(logger)
	sched := timers.NewScheduler(mock, loop, logger)
	conn := NewConnection()

	return &Env{
		Clock:  mock,
		Loop:   loop,
		Timers: sched,
		Conn:   conn,
		Logs:   logs,
		Services: &deepstream.Services{
			Options:    options.WithDefaults(),
			Logger:     deepstream.NewLogger(logger, nil),
			Loop:       loop,
			Timers:     sched,
			Connection: conn,
		},
	}
}

// Events returns the "event" field of every logged entry, in order.
func (e *Env) Events() []string {
	var events []string
	for _, entry := range e.Logs.All() {
		if ev, ok := entry.ContextMap()["event"]; ok {
			events = append(events, ev.(string))
		}
	}
	return events
}
