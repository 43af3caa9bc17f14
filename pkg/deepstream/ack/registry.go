// Package ack tracks requests that are waiting for an acknowledgement or a
// response from the server, and reports the ones that never get one.
package ack

import (
	"fmt"

	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"github.com/tsarna/deepstream/pkg/deepstream/timers"
	"go.uber.org/zap"
)

type entry struct {
	id      timers.ID
	timeout deepstream.Timeout
}

// Registry implements deepstream.TimeoutRegistry. It must only be used from
// the event loop.
type Registry struct {
	services *deepstream.Services
	logger   *deepstream.Logger

	entries map[string]*entry
	keys    map[timers.ID]string
}

// NewRegistry creates a Registry and subscribes it to connection loss.
// services.Connection and services.Timers must already be set.
func NewRegistry(services *deepstream.Services) *Registry {
	r := &Registry{
		services: services,
		logger:   services.Logger.Named("ack"),
		entries:  make(map[string]*entry),
		keys:     make(map[timers.ID]string),
	}
	services.Connection.OnLost(r.clearAll)
	return r
}

// Key identifies the request a message belongs to. Acks map onto their base
// action, error replies onto the action they refer to, and RPC rejections
// and request errors onto the pending RESPONSE.
func Key(msg *protocol.Message) string {
	action := protocol.BaseAction(msg.Action)
	if msg.IsError && msg.OriginalAction != 0 {
		action = protocol.BaseAction(msg.OriginalAction)
	}
	if msg.Topic == protocol.TopicRPC && (action == protocol.RPCReject || action == protocol.RPCRequestError) {
		action = protocol.RPCResponse
	}
	id := msg.CorrelationID
	if id == "" {
		id = msg.Name
	}
	return fmt.Sprintf("%d/%d/%s", msg.Topic, action, id)
}

// Add starts a timer for t. It returns the zero ID without scheduling
// anything when the connection is down, since loss clears everything
// anyway. Adding a key that is already pending replaces the old entry.
func (r *Registry) Add(t deepstream.Timeout) timers.ID {
	if !r.services.Connection.IsConnected() {
		return 0
	}
	if t.Duration <= 0 {
		t.Duration = r.services.Options.SubscriptionTimeout
	}
	if t.Event == "" {
		t.Event = deepstream.EventAckTimeout
	}

	key := Key(t.Message)
	r.removeKey(key)

	var id timers.ID
	id = r.services.Timers.SetTimeout(func() { r.fire(key, id) }, t.Duration)
	r.entries[key] = &entry{id: id, timeout: t}
	r.keys[id] = key
	return id
}

// Remove cancels the timeout matching msg. Unknown keys are ignored, so a
// duplicate ack is harmless.
func (r *Registry) Remove(msg *protocol.Message) {
	r.removeKey(Key(msg))
}

// Clear cancels a timeout by the ID Add returned.
func (r *Registry) Clear(id timers.ID) {
	if key, ok := r.keys[id]; ok {
		r.removeKey(key)
	}
}

// Len returns the number of outstanding timeouts.
func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) removeKey(key string) {
	e, ok := r.entries[key]
	if !ok {
		return
	}
	r.services.Timers.Clear(e.id)
	delete(r.entries, key)
	delete(r.keys, e.id)
}

func (r *Registry) fire(key string, id timers.ID) {
	e, ok := r.entries[key]
	if !ok || e.id != id {
		return
	}
	delete(r.entries, key)
	delete(r.keys, id)

	msg := e.timeout.Message
	r.services.Metrics.Timeout(msg.Topic, e.timeout.Event)
	if e.timeout.Callback != nil {
		e.timeout.Callback(e.timeout.Event, msg)
		return
	}
	r.logger.Warn(msg.Topic, e.timeout.Event, "No message received in time",
		zap.String("action", protocol.ActionName(msg.Topic, msg.Action)),
		zap.String("name", msg.Name),
		zap.String("correlationId", msg.CorrelationID))
}

func (r *Registry) clearAll() {
	for _, e := range r.entries {
		r.services.Timers.Clear(e.id)
	}
	clear(r.entries)
	clear(r.keys)
}
