// Package dispatch routes incoming messages to the feature handler that owns
// their topic.
package dispatch

import (
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

// Router maps each topic to at most one handler.
type Router struct {
	logger   *deepstream.Logger
	handlers map[protocol.Topic]deepstream.MessageHandler
}

func NewRouter(logger *deepstream.Logger) *Router {
	return &Router{
		logger:   logger,
		handlers: make(map[protocol.Topic]deepstream.MessageHandler),
	}
}

// Register installs handler for topic, replacing any earlier one.
func (r *Router) Register(topic protocol.Topic, handler deepstream.MessageHandler) {
	r.handlers[topic] = handler
}

// Dispatch hands msg to its topic's handler, or logs it as unsolicited.
func (r *Router) Dispatch(msg *protocol.Message) {
	handler, ok := r.handlers[msg.Topic]
	if !ok {
		r.logger.Warn(msg.Topic, deepstream.EventUnsolicitedMessage, "No handler for message",
			zap.Stringer("message", msg))
		return
	}
	handler(msg)
}
