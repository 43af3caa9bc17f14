// Package event implements deepstream events: named, fire-and-forget
// messages delivered to every subscriber of the name.
//
// Public methods are safe to call from any goroutine; they post their work
// to the event loop. Subscriber callbacks run on the loop.
package event

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/emitter"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

// Handle identifies one subscription.
type Handle uint64

type registration struct {
	name       string
	subscriber Subscriber
	listener   emitter.Handle
}

// Handler is the EVENT topic handler.
type Handler struct {
	services *deepstream.Services
	logger   *deepstream.Logger
	ctx      context.Context

	lastHandle    atomic.Uint64
	listeners     *emitter.Emitter[string, any]
	registrations map[Handle]registration
}

// NewHandler creates the handler and registers it for the EVENT topic.
// services.Connection and services.Timeouts must already be set.
func NewHandler(services *deepstream.Services) *Handler {
	h := &Handler{
		services:      services,
		logger:        services.Logger.Named("event"),
		ctx:           context.Background(),
		listeners:     emitter.New[string, any](),
		registrations: make(map[Handle]registration),
	}
	services.Connection.RegisterHandler(protocol.TopicEvent, h.handle)
	services.Connection.OnReestablished(h.resubscribe)
	return h
}

// Subscribe adds subscriber for name. The server is told about the first
// subscriber of each name only.
func (h *Handler) Subscribe(name string, subscriber Subscriber) (Handle, error) {
	if name == "" {
		return 0, deepstream.Invalid("subscribe", fmt.Errorf("event name is required"))
	}
	if subscriber == nil {
		return 0, deepstream.Invalid("subscribe", fmt.Errorf("subscriber is required"))
	}
	handle := Handle(h.lastHandle.Add(1))
	h.services.Loop.Post(func() { h.subscribe(handle, name, subscriber) })
	return handle, nil
}

// Unsubscribe removes a subscription. The server is told once the last
// subscriber of the name is gone.
func (h *Handler) Unsubscribe(handle Handle) {
	h.services.Loop.Post(func() { h.unsubscribe(handle) })
}

// Emit sends data to every subscriber of name, on the server and locally.
func (h *Handler) Emit(name string, data any) error {
	if name == "" {
		return deepstream.Invalid("emit", fmt.Errorf("event name is required"))
	}
	h.services.Loop.Post(func() {
		h.services.Connection.Send(&protocol.Message{
			Topic:      protocol.TopicEvent,
			Action:     protocol.EventEmit,
			Name:       name,
			ParsedData: data,
		})
		h.listeners.Emit(name, data)
	})
	return nil
}

// Names returns the subscribed event names in order. It must be called on
// the event loop.
func (h *Handler) Names() []string {
	names := h.listeners.Keys()
	slices.Sort(names)
	return names
}

func (h *Handler) subscribe(handle Handle, name string, subscriber Subscriber) {
	first := h.listeners.Count(name) == 0
	listener := h.listeners.On(name, func(data any) {
		if err := subscriber.OnEvent(h.ctx, name, data); err != nil {
			h.logger.Zap().Warn("Subscriber error", zap.String("name", name), zap.Error(err))
		}
	})
	h.registrations[handle] = registration{name: name, subscriber: subscriber, listener: listener}

	if err := subscriber.OnSubscribe(h.ctx, name); err != nil {
		h.logger.Zap().Warn("Subscriber error", zap.String("name", name), zap.Error(err))
	}
	if first {
		h.sendWithAck(protocol.EventSubscribe, name)
	}
}

func (h *Handler) unsubscribe(handle Handle) {
	reg, ok := h.registrations[handle]
	if !ok {
		h.logger.Warn(protocol.TopicEvent, deepstream.EventNotSubscribed, "Unknown subscription",
			zap.Uint64("handle", uint64(handle)))
		return
	}
	delete(h.registrations, handle)
	h.listeners.Off(reg.name, reg.listener)

	if err := reg.subscriber.OnUnsubscribe(h.ctx, reg.name); err != nil {
		h.logger.Zap().Warn("Subscriber error", zap.String("name", reg.name), zap.Error(err))
	}
	if h.listeners.Count(reg.name) == 0 {
		h.sendWithAck(protocol.EventUnsubscribe, reg.name)
	}
}

// sendWithAck only sends while connected. Subscriptions made offline go out
// with the resubscribe that follows authentication.
func (h *Handler) sendWithAck(action protocol.Action, name string) {
	if !h.services.Connection.IsConnected() {
		return
	}
	msg := &protocol.Message{Topic: protocol.TopicEvent, Action: action, Name: name}
	h.services.Connection.Send(msg)
	h.services.Timeouts.Add(deepstream.Timeout{Message: msg})
}

func (h *Handler) resubscribe() {
	for _, name := range h.Names() {
		h.sendWithAck(protocol.EventSubscribe, name)
	}
}

func (h *Handler) handle(msg *protocol.Message) {
	switch {
	case msg.IsError:
		h.services.Timeouts.Remove(msg)
		event := deepstream.Event(protocol.ActionName(msg.Topic, msg.Action))
		h.logger.Error(protocol.TopicEvent, event, "Event request failed",
			zap.String("name", msg.Name), zap.String("reason", msg.Reason))

	case msg.IsAck:
		h.services.Timeouts.Remove(msg)

	case msg.Action == protocol.EventEmit:
		data := msg.ParsedData
		if msg.Encoding == protocol.EncodingBinary {
			data = msg.Data
		}
		h.listeners.Emit(msg.Name, data)

	default:
		h.logger.Warn(protocol.TopicEvent, deepstream.EventUnsolicitedMessage, "Unexpected event message",
			zap.Stringer("message", msg))
	}
}
