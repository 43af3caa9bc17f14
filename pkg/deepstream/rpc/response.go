package rpc

import (
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

// Response answers one incoming call. Its methods may be called from any
// goroutine; the first of Send, Reject and Error completes the call and
// later ones are ignored. Send and Error accept the call first if Accept
// was not called.
type Response struct {
	handler   *Handler
	name      string
	cid       string
	accepted  bool
	completed bool
}

// Accept tells the caller the call is being worked on, which stops the
// caller's accept timeout.
func (r *Response) Accept() {
	r.handler.services.Loop.Post(func() {
		if !r.completed {
			r.accept()
		}
	})
}

// Send completes the call with data.
func (r *Response) Send(data any) {
	r.handler.services.Loop.Post(func() {
		if !r.begin() {
			return
		}
		r.accept()
		r.write(protocol.RPCResponse, data)
	})
}

// Reject declines the call so the server can route it to another
// provider.
func (r *Response) Reject() {
	r.handler.services.Loop.Post(r.reject)
}

// Error completes the call with a failure message for the caller.
func (r *Response) Error(message string) {
	r.handler.services.Loop.Post(func() { r.fail(message) })
}

func (r *Response) begin() bool {
	if r.completed {
		r.handler.logger.Zap().Debug("RPC already completed",
			zap.String("name", r.name), zap.String("correlationId", r.cid))
		return false
	}
	r.completed = true
	return true
}

func (r *Response) accept() {
	if r.accepted {
		return
	}
	r.accepted = true
	r.write(protocol.RPCAccept, nil)
}

func (r *Response) reject() {
	if !r.begin() {
		return
	}
	r.write(protocol.RPCReject, nil)
}

func (r *Response) fail(message string) {
	if !r.begin() {
		return
	}
	r.accept()
	r.write(protocol.RPCRequestError, message)
}

func (r *Response) write(action protocol.Action, data any) {
	r.handler.services.Connection.Send(&protocol.Message{
		Topic:         protocol.TopicRPC,
		Action:        action,
		Name:          r.name,
		CorrelationID: r.cid,
		ParsedData:    data,
	})
}
