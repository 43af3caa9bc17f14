package subutils

import (
	"context"

	"github.com/tsarna/deepstream/pkg/deepstream/event"
	"github.com/tsarna/deepstream/pkg/deepstream/transform"
)

// TransformingSubscriber runs every event through transforms before
// passing it on. Dropped events never reach the wrapped subscriber.
type TransformingSubscriber struct {
	wrapped    event.Subscriber
	transforms []transform.EventTransformFunc
}

func NewTransformingSubscriber(wrapped event.Subscriber, transforms ...transform.EventTransformFunc) *TransformingSubscriber {
	return &TransformingSubscriber{
		wrapped:    wrapped,
		transforms: transforms,
	}
}

func (t *TransformingSubscriber) OnSubscribe(ctx context.Context, name string) error {
	return t.wrapped.OnSubscribe(ctx, name)
}

func (t *TransformingSubscriber) OnUnsubscribe(ctx context.Context, name string) error {
	return t.wrapped.OnUnsubscribe(ctx, name)
}

func (t *TransformingSubscriber) OnEvent(ctx context.Context, name string, data any) error {
	if len(t.transforms) == 0 {
		return t.wrapped.OnEvent(ctx, name, data)
	}
	ev := transform.Apply(&transform.Event{Ctx: ctx, Name: name, Data: data}, t.transforms...)
	if ev == nil {
		return nil
	}
	return t.wrapped.OnEvent(ev.Ctx, ev.Name, ev.Data)
}
