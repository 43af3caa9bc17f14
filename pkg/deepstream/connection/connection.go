// Package connection implements the deepstream connection state machine:
// the challenge and authentication handshake, redirects, heartbeats,
// reconnection with linear backoff, and buffering of outgoing messages
// while the connection is not open.
//
// A Connection is owned by the event loop. Socket callbacks are posted to
// the loop and tagged with the socket they came from, so events from a
// socket that has since been replaced are dropped.
package connection

import (
	"time"

	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/dispatch"
	"github.com/tsarna/deepstream/pkg/deepstream/emitter"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"github.com/tsarna/deepstream/pkg/deepstream/timers"
	"go.uber.org/zap"
)

// AuthCallback receives the outcome of Authenticate. On success data is the
// server's login payload; on failure it is the server's reason payload or
// a map with a "reason" key.
type AuthCallback func(success bool, data any)

type lifecycle int

const (
	lifecycleReestablished lifecycle = iota
	lifecycleLost
	lifecycleExitLimbo
)

// Connection implements deepstream.Connection.
type Connection struct {
	services *deepstream.Services
	logger   *deepstream.Logger
	options  deepstream.Options
	dialer   deepstream.Dialer
	router   *dispatch.Router
	decoder  *protocol.Decoder

	state       deepstream.ConnectionState
	originalURL string
	url         string
	socket      deepstream.Socket
	generation  uint64

	authParams       any
	hasAuthParams    bool
	authCallback     AuthCallback
	loginData        any
	wasAuthenticated bool
	deliberateClose  bool
	redirecting      bool

	reconnectAttempt int
	reconnectTimer   timers.ID
	heartbeatTimer   timers.ID
	lastHeartbeat    time.Time
	limboTimer       timers.ID
	inLimbo          bool

	buffer []*protocol.Message

	stateListeners *emitter.Emitter[struct{}, deepstream.StateChange]
	lifecycle      *emitter.Emitter[lifecycle, struct{}]
}

// New creates a closed Connection. services must carry Options, Logger,
// Loop and Timers.
func New(services *deepstream.Services, dialer deepstream.Dialer) *Connection {
	logger := services.Logger.Named("connection")
	return &Connection{
		services:       services,
		logger:         logger,
		options:        services.Options,
		dialer:         dialer,
		router:         dispatch.NewRouter(logger),
		decoder:        protocol.NewDecoder(services.Options.MaxMessageSize),
		state:          deepstream.StateClosed,
		stateListeners: emitter.New[struct{}, deepstream.StateChange](),
		lifecycle:      emitter.New[lifecycle, struct{}](),
	}
}

// Open normalizes rawURL and starts the first socket. It fails if a socket
// is already open or being dialed.
func (c *Connection) Open(rawURL string) error {
	if c.socket != nil || c.reconnectTimer != 0 {
		return deepstream.ErrAlreadyConnecting
	}
	u, err := NormalizeURL(rawURL, c.options.Path)
	if err != nil {
		return deepstream.Invalid("open", err)
	}
	c.originalURL = u
	c.url = u
	c.deliberateClose = false
	c.reconnectAttempt = 0
	c.wasAuthenticated = false
	c.createEndpoint(u)
	return nil
}

// Authenticate stores params for this and every future reconnect and sends
// them as soon as the server has accepted the challenge. cb is called once,
// for the first outcome. A callback still waiting from an earlier call
// fails with AUTHENTICATION_SUPERSEDED. While OPEN the session is kept and
// cb succeeds at once with the current login data. Calling Authenticate
// after a deliberate close reopens the connection.
func (c *Connection) Authenticate(params any, cb AuthCallback) error {
	if c.state.IsTerminal() {
		c.logger.Error(protocol.TopicConnection, deepstream.EventIsClosed,
			"The client's connection was closed", zap.Stringer("state", c.state))
		return deepstream.Terminal("authenticate", deepstream.ErrConnectionClosed)
	}
	if c.authCallback != nil && c.state == deepstream.StateAuthenticating {
		return deepstream.ErrAuthenticationInProgress
	}
	if c.state == deepstream.StateOpen {
		c.logger.Debug("Already authenticated, keeping the current session")
		if cb != nil {
			cb(true, c.loginData)
		}
		return nil
	}

	if prev := c.takeAuthCallback(); prev != nil {
		c.logger.Warn(protocol.TopicAuth, deepstream.EventAuthenticationSuperseded,
			"Pending authentication replaced by a later call")
		prev(false, map[string]any{"reason": string(deepstream.EventAuthenticationSuperseded)})
	}

	if params == nil {
		params = map[string]any{}
	}
	c.authParams = params
	c.hasAuthParams = true
	c.authCallback = cb

	if c.deliberateClose && c.state == deepstream.StateClosed {
		c.deliberateClose = false
		c.reconnectAttempt = 0
		if c.originalURL == "" {
			return deepstream.Invalid("authenticate", deepstream.ErrNotStarted)
		}
		c.url = c.originalURL
		c.createEndpoint(c.url)
		return nil
	}

	if c.state == deepstream.StateAwaitingAuthentication {
		c.sendAuthParams()
	}
	return nil
}

// Close closes the connection on purpose; it will not reconnect. If the
// handshake got far enough, the server is told first and the socket closes
// once it confirms.
func (c *Connection) Close() {
	c.clearReconnect()
	c.deliberateClose = true

	if c.socket == nil {
		c.setState(deepstream.StateClosed)
		return
	}
	switch c.state {
	case deepstream.StateClosed, deepstream.StateReconnecting, deepstream.StateRedirecting:
		c.closeSocket()
	default:
		c.stopHeartbeat()
		c.write(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionClosing})
		c.setState(deepstream.StateClosing)
	}
}

// Terminate closes the socket immediately without waiting for the server.
func (c *Connection) Terminate() {
	c.clearReconnect()
	c.deliberateClose = true
	if c.socket != nil {
		c.closeSocket()
		return
	}
	c.setState(deepstream.StateClosed)
}

// Send writes msg if the connection is open. Otherwise it is buffered and
// flushed in order once authentication succeeds. Handshake messages skip
// the buffer. After a deliberate close messages are dropped.
func (c *Connection) Send(msg *protocol.Message) {
	if msg.Topic == protocol.TopicConnection || msg.Topic == protocol.TopicAuth {
		c.write(msg)
		return
	}
	if c.state == deepstream.StateOpen {
		c.write(msg)
		return
	}
	if c.deliberateClose {
		c.logger.Warn(msg.Topic, deepstream.EventIsClosed, "Dropping message, connection is closed",
			zap.Stringer("message", msg))
		return
	}
	c.buffer = append(c.buffer, msg)
}

// RegisterHandler routes every incoming message for topic to handler.
func (c *Connection) RegisterHandler(topic protocol.Topic, handler deepstream.MessageHandler) {
	c.router.Register(topic, handler)
}

func (c *Connection) OnReestablished(fn func()) {
	c.lifecycle.On(lifecycleReestablished, func(struct{}) { fn() })
}

func (c *Connection) OnLost(fn func()) {
	c.lifecycle.On(lifecycleLost, func(struct{}) { fn() })
}

func (c *Connection) OnExitLimbo(fn func()) {
	c.lifecycle.On(lifecycleExitLimbo, func(struct{}) { fn() })
}

// OnStateChange registers fn for every state transition.
func (c *Connection) OnStateChange(fn func(deepstream.StateChange)) emitter.Handle {
	return c.stateListeners.On(struct{}{}, fn)
}

// OffStateChange removes a listener added with OnStateChange.
func (c *Connection) OffStateChange(h emitter.Handle) {
	c.stateListeners.Off(struct{}{}, h)
}

func (c *Connection) IsConnected() bool {
	return c.state == deepstream.StateOpen
}

func (c *Connection) IsInLimbo() bool {
	return c.inLimbo
}

func (c *Connection) State() deepstream.ConnectionState {
	return c.state
}

// URL returns the URL of the current or most recent socket.
func (c *Connection) URL() string {
	return c.url
}

// OriginalURL returns the URL passed to Open, after normalization.
func (c *Connection) OriginalURL() string {
	return c.originalURL
}

// Buffered returns the number of messages waiting for the connection to
// open.
func (c *Connection) Buffered() int {
	return len(c.buffer)
}

func (c *Connection) setState(state deepstream.ConnectionState) {
	if c.state == state {
		return
	}
	change := deepstream.StateChange{From: c.state, To: state}
	c.state = state

	c.logger.StateChanged(change)
	c.services.Metrics.ConnectionState(state)
	c.stateListeners.Emit(struct{}{}, change)

	if change.From == deepstream.StateOpen {
		if state == deepstream.StateReconnecting {
			c.enterLimbo()
		}
		c.lifecycle.Emit(lifecycleLost, struct{}{})
	}
	if state == deepstream.StateClosed || state.IsTerminal() {
		c.exitLimbo()
	}
}

func (c *Connection) enterLimbo() {
	if c.inLimbo {
		return
	}
	c.inLimbo = true
	c.limboTimer = c.services.Timers.SetTimeout(func() {
		c.limboTimer = 0
		c.exitLimbo()
	}, c.options.OfflineBufferTimeout)
}

func (c *Connection) exitLimbo() {
	if !c.inLimbo {
		return
	}
	c.inLimbo = false
	c.services.Timers.Clear(c.limboTimer)
	c.limboTimer = 0
	c.lifecycle.Emit(lifecycleExitLimbo, struct{}{})
}

// reestablished runs once authentication succeeds: limbo ends without
// failing anything, buffered messages go out, then handlers resubscribe.
func (c *Connection) reestablished() {
	if c.inLimbo {
		c.inLimbo = false
		c.services.Timers.Clear(c.limboTimer)
		c.limboTimer = 0
	}
	buffered := c.buffer
	c.buffer = nil
	for _, msg := range buffered {
		c.write(msg)
	}
	c.lifecycle.Emit(lifecycleReestablished, struct{}{})
}

func (c *Connection) write(msg *protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error(msg.Topic, deepstream.EventMessageParseError, "Failed to encode message",
			zap.Stringer("message", msg), zap.Error(err))
		return
	}
	if c.socket == nil {
		c.logger.Debug("No socket, dropping message", zap.Stringer("message", msg))
		return
	}
	if err := c.socket.Send(frame); err != nil {
		c.logger.Warn(msg.Topic, deepstream.EventConnectionError, "Failed to send message",
			zap.Stringer("message", msg), zap.Error(err))
		return
	}
	c.services.Metrics.MessageSent(msg.Topic)
}
