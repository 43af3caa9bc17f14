// Package rpc implements deepstream remote procedure calls: making calls
// that some other client answers, and providing answers to calls.
//
// Public methods are safe to call from any goroutine; they post their work
// to the event loop. Callbacks and providers run on the loop.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

// Callback receives the outcome of a call: either an error or the
// provider's result.
type Callback func(err error, result any)

// ProviderFunc answers one incoming call through response.
type ProviderFunc func(data any, response *Response)

// RequestError is a failure reported by the provider of a call.
type RequestError struct {
	Name    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rpc %s failed: %s", e.Name, e.Message)
}

type call struct {
	name     string
	started  time.Time
	callback Callback
}

// Handler is the RPC topic handler.
type Handler struct {
	services *deepstream.Services
	logger   *deepstream.Logger
	tracing  o11y.TracingProvider
	newID    func() string

	calls     map[string]*call
	providers map[string]ProviderFunc
}

// NewHandler creates the handler and registers it for the RPC topic.
// services.Connection, services.Timeouts and services.Offline must already
// be set.
func NewHandler(services *deepstream.Services) *Handler {
	h := &Handler{
		services:  services,
		logger:    services.Logger.Named("rpc"),
		tracing:   services.Tracing,
		newID:     uuid.NewString,
		calls:     make(map[string]*call),
		providers: make(map[string]ProviderFunc),
	}
	if h.tracing == nil {
		h.tracing = o11y.Nop{}
	}
	services.Connection.RegisterHandler(protocol.TopicRPC, h.handle)
	services.Connection.OnReestablished(h.reprovide)
	services.Connection.OnLost(h.failAll)
	return h
}

// MakeAsync calls the remote procedure name with data. callback runs on
// the event loop exactly once. While the connection is in limbo the call
// waits for it to come back; otherwise an offline client fails the call
// with deepstream.ErrClientOffline.
func (h *Handler) MakeAsync(name string, data any, callback Callback) {
	if callback == nil {
		callback = func(error, any) {}
	}
	if name == "" {
		h.services.Loop.Post(func() {
			callback(deepstream.Invalid("rpc", fmt.Errorf("rpc name is required")), nil)
		})
		return
	}
	h.services.Loop.Post(func() {
		h.services.Offline.Submit(
			func() { h.send(name, data, callback) },
			func(err error) { callback(err, nil) })
	})
}

// Make calls name and waits for the result. It must not be called from the
// event loop.
func (h *Handler) Make(ctx context.Context, name string, data any) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	ctx, span := h.tracing.StartSpan(ctx, "deepstream.rpc.make")
	defer span.End()
	span.SetAttributes(o11y.Label{Key: "rpc.name", Value: name})

	done := make(chan outcome, 1)
	h.MakeAsync(name, data, func(err error, result any) {
		done <- outcome{result, err}
	})

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o.err = ctx.Err()
	}
	if o.err != nil {
		span.SetStatus(o11y.SpanStatusError, o.err.Error())
	} else {
		span.SetStatus(o11y.SpanStatusOK, "")
	}
	return o.result, o.err
}

// Provide answers every call to name with fn. Providing a name twice is an
// error.
func (h *Handler) Provide(name string, fn ProviderFunc) error {
	if name == "" {
		return deepstream.Invalid("provide", fmt.Errorf("rpc name is required"))
	}
	if fn == nil {
		return deepstream.Invalid("provide", fmt.Errorf("provider is required"))
	}
	h.services.Loop.Post(func() {
		if _, ok := h.providers[name]; ok {
			h.logger.Warn(protocol.TopicRPC, deepstream.EventRPCError, "RPC is already provided",
				zap.String("name", name))
			return
		}
		h.providers[name] = fn
		h.sendWithAck(protocol.RPCProvide, name)
	})
	return nil
}

// Unprovide stops answering calls to name.
func (h *Handler) Unprovide(name string) {
	h.services.Loop.Post(func() {
		if _, ok := h.providers[name]; !ok {
			h.logger.Warn(protocol.TopicRPC, deepstream.EventNotProviding, "RPC is not provided",
				zap.String("name", name))
			return
		}
		delete(h.providers, name)
		h.sendWithAck(protocol.RPCUnprovide, name)
	})
}

// Provided returns the provided names in order. It must be called on the
// event loop.
func (h *Handler) Provided() []string {
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Pending returns the number of calls awaiting a result. It must be called
// on the event loop.
func (h *Handler) Pending() int {
	return len(h.calls)
}

func (h *Handler) send(name string, data any, callback Callback) {
	cid := h.newID()
	h.calls[cid] = &call{name: name, started: h.services.Timers.Now(), callback: callback}

	h.services.Connection.Send(&protocol.Message{
		Topic:         protocol.TopicRPC,
		Action:        protocol.RPCRequest,
		Name:          name,
		CorrelationID: cid,
		ParsedData:    data,
	})
	h.services.Timeouts.Add(deepstream.Timeout{
		Message:  &protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCAccept, Name: name, CorrelationID: cid},
		Event:    deepstream.EventAcceptTimeout,
		Duration: h.services.Options.RPCAcceptTimeout,
		Callback: func(deepstream.Event, *protocol.Message) { h.complete(cid, deepstream.ErrAcceptTimeout, nil) },
	})
	h.services.Timeouts.Add(deepstream.Timeout{
		Message:  &protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCResponse, Name: name, CorrelationID: cid},
		Event:    deepstream.EventResponseTimeout,
		Duration: h.services.Options.RPCResponseTimeout,
		Callback: func(deepstream.Event, *protocol.Message) { h.complete(cid, deepstream.ErrResponseTimeout, nil) },
	})
}

// complete finishes the call cid, cancels whatever timeout is left and
// reports the outcome. Unknown ids are ignored.
func (h *Handler) complete(cid string, err error, result any) {
	c, ok := h.calls[cid]
	if !ok {
		return
	}
	delete(h.calls, cid)
	h.services.Timeouts.Remove(&protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCAccept, CorrelationID: cid})
	h.services.Timeouts.Remove(&protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCResponse, CorrelationID: cid})

	elapsed := h.services.Timers.Now().Sub(c.started)
	h.services.Metrics.RPCDuration(c.name, elapsed.Seconds(), err == nil)
	c.callback(err, result)
}

func (h *Handler) failAll() {
	ids := make([]string, 0, len(h.calls))
	for cid := range h.calls {
		ids = append(ids, cid)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return h.calls[a].started.Compare(h.calls[b].started)
	})
	for _, cid := range ids {
		h.complete(cid, deepstream.ErrClientOffline, nil)
	}
}

func (h *Handler) sendWithAck(action protocol.Action, name string) {
	if !h.services.Connection.IsConnected() {
		return
	}
	msg := &protocol.Message{Topic: protocol.TopicRPC, Action: action, Name: name}
	h.services.Connection.Send(msg)
	h.services.Timeouts.Add(deepstream.Timeout{Message: msg})
}

func (h *Handler) reprovide() {
	for _, name := range h.Provided() {
		h.sendWithAck(protocol.RPCProvide, name)
	}
}

func (h *Handler) handle(msg *protocol.Message) {
	if msg.IsAck {
		h.services.Timeouts.Remove(msg)
		return
	}

	switch msg.Action {
	case protocol.RPCRequest:
		h.answer(msg)

	case protocol.RPCAccept:
		h.services.Timeouts.Remove(msg)

	case protocol.RPCResponse:
		h.complete(msg.CorrelationID, nil, payload(msg))

	case protocol.RPCRequestError:
		text, _ := msg.ParsedData.(string)
		if text == "" {
			text = msg.Reason
		}
		h.complete(msg.CorrelationID, &RequestError{Name: msg.Name, Message: text}, nil)

	case protocol.RPCReject, protocol.RPCNoProvider:
		h.complete(msg.CorrelationID, deepstream.ErrNoRPCProvider, nil)

	case protocol.RPCAcceptTimeout:
		h.complete(msg.CorrelationID, deepstream.ErrAcceptTimeout, nil)

	case protocol.RPCResponseTimeout:
		h.complete(msg.CorrelationID, deepstream.ErrResponseTimeout, nil)

	default:
		h.handleError(msg)
	}
}

func (h *Handler) handleError(msg *protocol.Message) {
	h.services.Timeouts.Remove(msg)
	event := deepstream.Event(protocol.ActionName(msg.Topic, msg.Action))
	if _, ok := h.calls[msg.CorrelationID]; ok {
		err := error(fmt.Errorf("rpc %s: %s", msg.Name, event))
		if msg.Action == protocol.RPCMessageDenied {
			err = deepstream.ErrMessageDenied
		}
		h.complete(msg.CorrelationID, err, nil)
		return
	}
	if !msg.IsError {
		h.logger.Warn(protocol.TopicRPC, deepstream.EventUnsolicitedMessage, "Unexpected rpc message",
			zap.Stringer("message", msg))
		return
	}
	h.logger.Error(protocol.TopicRPC, event, "RPC request failed",
		zap.String("name", msg.Name), zap.String("reason", msg.Reason))
}

func (h *Handler) answer(msg *protocol.Message) {
	response := &Response{handler: h, name: msg.Name, cid: msg.CorrelationID}
	fn, ok := h.providers[msg.Name]
	if !ok {
		response.reject()
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Zap().Error("RPC provider panicked", zap.String("name", msg.Name), zap.Any("panic", r))
				response.fail(fmt.Sprint(r))
			}
		}()
		fn(payload(msg), response)
	}()
}

func payload(msg *protocol.Message) any {
	if msg.Encoding == protocol.EncodingBinary {
		return msg.Data
	}
	return msg.ParsedData
}

// IsRequestError reports whether err came from the provider rather than
// the connection.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
