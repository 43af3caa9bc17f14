package connection

import (
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

func (c *Connection) handleConnectionMessage(msg *protocol.Message) {
	switch msg.Action {
	case protocol.ConnectionPing:
		c.lastHeartbeat = c.services.Timers.Now()
		c.write(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionPong})

	case protocol.ConnectionChallenge:
		c.setState(deepstream.StateChallenging)
		c.write(&protocol.Message{
			Topic:  protocol.TopicConnection,
			Action: protocol.ConnectionChallengeResponse,
			URL:    c.originalURL,
		})

	case protocol.ConnectionAccept:
		c.setState(deepstream.StateAwaitingAuthentication)
		if c.hasAuthParams {
			c.sendAuthParams()
		}

	case protocol.ConnectionReject:
		c.terminate(deepstream.StateChallengeDenied, protocol.TopicConnection, deepstream.EventChallengeDenied,
			"Connection challenge was rejected by the server")

	case protocol.ConnectionRedirect:
		target := msg.URL
		if target == "" {
			target, _ = msg.ParsedData.(string)
		}
		if target == "" {
			c.logger.Error(protocol.TopicConnection, deepstream.EventConnectionError, "Redirect without a URL")
			return
		}
		c.logger.Info("Redirected by server", zap.String("url", target))
		c.url = target
		c.redirecting = true
		c.setState(deepstream.StateRedirecting)
		c.closeSocket()

	case protocol.ConnectionClosed:
		c.closeSocket()

	case protocol.ConnectionAuthenticationTimeout:
		c.terminate(deepstream.StateAuthenticationTimeout, protocol.TopicConnection, deepstream.EventAuthenticationTimeout,
			"Connection authentication timed out")

	default:
		if msg.IsError {
			c.logger.Error(protocol.TopicConnection, deepstream.EventConnectionError,
				protocol.ActionName(msg.Topic, msg.Action), zap.String("reason", msg.Reason))
			return
		}
		c.logger.Warn(protocol.TopicConnection, deepstream.EventUnsolicitedMessage,
			"Unexpected connection message", zap.Stringer("message", msg))
	}
}

func (c *Connection) handleAuthMessage(msg *protocol.Message) {
	switch msg.Action {
	case protocol.AuthSuccessful:
		c.loginData = msg.ParsedData
		c.wasAuthenticated = true
		c.setState(deepstream.StateOpen)
		if cb := c.takeAuthCallback(); cb != nil {
			cb(true, msg.ParsedData)
		}
		c.reestablished()

	case protocol.AuthUnsuccessful:
		c.setState(deepstream.StateAwaitingAuthentication)
		data := map[string]any{"reason": string(deepstream.EventInvalidAuthenticationDetails)}
		if msg.ParsedData != nil {
			data["data"] = msg.ParsedData
		}
		if cb := c.takeAuthCallback(); cb != nil {
			cb(false, data)
			return
		}
		if c.wasAuthenticated {
			c.logger.Error(protocol.TopicAuth, deepstream.EventReauthenticationFailure,
				"Reauthentication failed after reconnect")
			return
		}
		c.logger.Warn(protocol.TopicAuth, deepstream.EventInvalidAuthenticationDetails,
			"Login rejected by the server")

	case protocol.AuthTooManyAttempts:
		c.terminate(deepstream.StateTooManyAuthAttempts, protocol.TopicAuth, deepstream.EventTooManyAuthAttempts,
			"Too many authentication attempts")

	default:
		c.logger.Error(protocol.TopicAuth, deepstream.Event(protocol.ActionName(msg.Topic, msg.Action)),
			"Authentication message rejected by the server", zap.String("reason", msg.Reason))
		if c.state == deepstream.StateAuthenticating {
			c.setState(deepstream.StateAwaitingAuthentication)
			if cb := c.takeAuthCallback(); cb != nil {
				cb(false, map[string]any{"reason": protocol.ActionName(msg.Topic, msg.Action)})
			}
		}
	}
}

func (c *Connection) handleParserMessage(msg *protocol.Message) {
	c.logger.Error(protocol.TopicParser, deepstream.Event(protocol.ActionName(msg.Topic, msg.Action)),
		"Server could not parse a message", zap.String("reason", msg.Reason))
}

func (c *Connection) sendAuthParams() {
	c.setState(deepstream.StateAuthenticating)
	c.write(&protocol.Message{
		Topic:      protocol.TopicAuth,
		Action:     protocol.AuthRequest,
		ParsedData: c.authParams,
	})
}

func (c *Connection) takeAuthCallback() AuthCallback {
	cb := c.authCallback
	c.authCallback = nil
	return cb
}

// terminate moves to a terminal state. The connection will not reconnect
// and any waiting Authenticate callback fails with the event as reason.
func (c *Connection) terminate(state deepstream.ConnectionState, topic protocol.Topic, event deepstream.Event, text string) {
	c.deliberateClose = true
	c.clearReconnect()
	c.setState(state)
	c.logger.Error(topic, event, text)
	c.closeSocket()
	if cb := c.takeAuthCallback(); cb != nil {
		cb(false, map[string]any{"reason": string(event)})
	}
}
