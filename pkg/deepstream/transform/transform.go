// Package transform rewrites or filters events on their way to a
// subscriber. Event names are matched with MQTT-style patterns, so names
// are expected to use "/" as a separator, e.g. "chat/room1/messages".
package transform

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/benbjohnson/clock"
)

// Event is one incoming event.
type Event struct {
	Ctx  context.Context
	Name string
	Data any
}

// EventTransformFunc transforms an event. Returning a nil event drops it
// and stops the chain. Returning false stops the chain with the event as
// it is.
type EventTransformFunc func(ev *Event) (*Event, bool)

// PayloadFunc computes a new payload from an event's data and the fields
// extracted from its name. Returning nil drops the event.
type PayloadFunc func(ctx context.Context, data any, fields map[string]string) any

// Apply runs transforms over ev in order and returns the result, which is
// nil if the event was dropped.
func Apply(ev *Event, transforms ...EventTransformFunc) *Event {
	result, _ := ChainTransforms(transforms...)(ev)
	return result
}

// DropNamePattern drops events whose names match pattern.
//
//	DropNamePattern("debug/#")   // debug/a, debug/a/b
//	DropNamePattern("+/internal") // x/internal
func DropNamePattern(pattern string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if mqttpattern.Matches(pattern, ev.Name) {
			return nil, false
		}
		return ev, true
	}
}

// KeepNamePattern drops events whose names do not match pattern.
func KeepNamePattern(pattern string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if !mqttpattern.Matches(pattern, ev.Name) {
			return nil, false
		}
		return ev, true
	}
}

// DropNamePrefix drops events whose names start with prefix.
func DropNamePrefix(prefix string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if strings.HasPrefix(ev.Name, prefix) {
			return nil, false
		}
		return ev, true
	}
}

// AddNamePrefix renames every event to prefix + name.
func AddNamePrefix(prefix string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		return &Event{Ctx: ev.Ctx, Name: prefix + ev.Name, Data: ev.Data}, true
	}
}

// RateLimitByName drops events that arrive less than minInterval after the
// last event kept with the same name. clk may be nil.
func RateLimitByName(minInterval time.Duration, clk clock.Clock) EventTransformFunc {
	if clk == nil {
		clk = clock.New()
	}
	var mu sync.Mutex
	lastSent := make(map[string]time.Time)

	return func(ev *Event) (*Event, bool) {
		mu.Lock()
		defer mu.Unlock()
		now := clk.Now()
		if last, ok := lastSent[ev.Name]; ok && now.Sub(last) < minInterval {
			return nil, false
		}
		lastSent[ev.Name] = now
		return ev, true
	}
}

// ChainTransforms combines transforms into one.
func ChainTransforms(transforms ...EventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		current := ev
		for _, transform := range transforms {
			if current == nil {
				return nil, true
			}
			transformed, cont := transform(current)
			current = transformed
			if current == nil || !cont {
				return current, cont
			}
		}
		return current, true
	}
}

// TransformOnPattern replaces the payload of events whose names match
// pattern. Named wildcards in the pattern, e.g. "sensor/+device/data", are
// passed to fn as fields.
func TransformOnPattern(pattern string, fn PayloadFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if !mqttpattern.Matches(pattern, ev.Name) {
			return ev, true
		}
		return withData(ev, fn(ev.Ctx, ev.Data, mqttpattern.Extract(pattern, ev.Name)))
	}
}

// IfPattern applies transform only to events whose names match pattern.
func IfPattern(pattern string, transform EventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if mqttpattern.Matches(pattern, ev.Name) {
			return transform(ev)
		}
		return ev, true
	}
}

// ModifyPayload replaces the payload of every event.
func ModifyPayload(fn PayloadFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		return withData(ev, fn(ev.Ctx, ev.Data, map[string]string{}))
	}
}

func withData(ev *Event, data any) (*Event, bool) {
	if data == nil {
		return nil, true
	}
	return &Event{Ctx: ev.Ctx, Name: ev.Name, Data: data}, true
}
