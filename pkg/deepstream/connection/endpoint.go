package connection

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

// createEndpoint dials url. Callbacks from the new socket are bound to the
// current generation; any later socket change makes them no-ops.
func (c *Connection) createEndpoint(url string) {
	c.generation++
	gen := c.generation
	c.decoder.Reset()

	post := func(fn func()) {
		c.services.Loop.Post(func() {
			if gen != c.generation {
				return
			}
			fn()
		})
	}

	c.logger.Debug("Opening socket", zap.String("url", url))
	c.socket = c.dialer(url, deepstream.SocketEvents{
		OnOpen:    func() { post(c.onOpen) },
		OnMessage: func(data []byte) { post(func() { c.onMessage(gen, data) }) },
		OnError:   func(err error) { post(func() { c.onError(err) }) },
		OnClose:   func() { post(c.onSocketClosed) },
	})
}

func (c *Connection) onOpen() {
	c.clearReconnect()
	c.startHeartbeat()
	c.setState(deepstream.StateAwaitingConnection)
}

func (c *Connection) onMessage(gen uint64, data []byte) {
	for _, result := range c.decoder.Feed(data) {
		if gen != c.generation {
			return
		}
		if result.Err != nil {
			c.services.Metrics.ParseError(string(result.Err.Kind))
			c.logger.Warn(protocol.TopicParser, deepstream.Event(result.Err.Kind), result.Err.Error())
			continue
		}
		msg := result.Message
		if reason := protocol.Validate(msg); reason != "" {
			c.logger.Warn(msg.Topic, deepstream.EventInvalidMessage, reason, zap.Stringer("message", msg))
			continue
		}
		c.services.Metrics.MessageReceived(msg.Topic)

		switch msg.Topic {
		case protocol.TopicConnection:
			c.handleConnectionMessage(msg)
		case protocol.TopicAuth:
			c.handleAuthMessage(msg)
		case protocol.TopicParser:
			c.handleParserMessage(msg)
		default:
			c.router.Dispatch(msg)
		}
	}
}

func (c *Connection) onError(err error) {
	var text string
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		text = fmt.Sprintf("Can't connect! Deepstream server unreachable on %s", c.url)
	case errors.Is(err, syscall.ECONNRESET):
		text = fmt.Sprintf("Connection to %s was reset by the server", c.url)
	default:
		text = err.Error()
	}
	c.logger.Error(protocol.TopicConnection, deepstream.EventConnectionError, text,
		zap.String("url", c.url), zap.Error(err))
}

// onSocketClosed handles the current socket going away, whether the server
// closed it, the network dropped it, or we closed it ourselves.
func (c *Connection) onSocketClosed() {
	c.socket = nil
	c.generation++
	c.stopHeartbeat()

	switch {
	case c.redirecting:
		c.redirecting = false
		c.createEndpoint(c.url)
	case c.deliberateClose:
		if !c.state.IsTerminal() {
			c.setState(deepstream.StateClosed)
		}
	default:
		c.tryReconnect()
	}
}

// closeSocket closes the current socket and handles the closure right away
// instead of waiting for the transport to report it.
func (c *Connection) closeSocket() {
	socket := c.socket
	if socket == nil {
		return
	}
	if err := socket.Close(); err != nil {
		c.logger.Debug("Error closing socket", zap.Error(err))
	}
	c.onSocketClosed()
}

func (c *Connection) tryReconnect() {
	if c.reconnectTimer != 0 {
		return
	}
	if c.reconnectAttempt < c.options.MaxReconnectAttempts {
		c.setState(deepstream.StateReconnecting)
		delay := min(c.options.MaxReconnectInterval,
			c.options.ReconnectIntervalIncrement*time.Duration(c.reconnectAttempt))
		c.reconnectTimer = c.services.Timers.SetTimeout(c.tryOpen, delay)
		c.reconnectAttempt++
		c.services.Metrics.ReconnectAttempt()
		c.logger.Debug("Scheduling reconnect",
			zap.Int("attempt", c.reconnectAttempt), zap.Duration("delay", delay))
		return
	}

	c.logger.Error(protocol.TopicConnection, deepstream.EventMaxReconnectionAttempts,
		"Giving up after too many reconnection attempts", zap.Int("attempts", c.reconnectAttempt))
	c.clearReconnect()
	c.deliberateClose = true
	c.setState(deepstream.StateClosed)
}

func (c *Connection) tryOpen() {
	c.reconnectTimer = 0
	c.url = c.originalURL
	c.createEndpoint(c.url)
}

func (c *Connection) clearReconnect() {
	c.services.Timers.Clear(c.reconnectTimer)
	c.reconnectTimer = 0
	c.reconnectAttempt = 0
}

func (c *Connection) startHeartbeat() {
	c.stopHeartbeat()
	c.lastHeartbeat = c.services.Timers.Now()
	c.heartbeatTimer = c.services.Timers.SetInterval(c.checkHeartbeat, c.options.HeartbeatInterval)
}

func (c *Connection) stopHeartbeat() {
	c.services.Timers.Clear(c.heartbeatTimer)
	c.heartbeatTimer = 0
}

func (c *Connection) checkHeartbeat() {
	elapsed := c.services.Timers.Now().Sub(c.lastHeartbeat)
	if elapsed <= 2*c.options.HeartbeatInterval {
		return
	}
	c.stopHeartbeat()
	c.logger.Error(protocol.TopicConnection, deepstream.EventHeartbeatTimeout,
		"Heartbeat missed, closing connection", zap.Duration("elapsed", elapsed))
	c.closeSocket()
}
