package event

import "context"

// Subscriber receives the events of the names it is subscribed to.
type Subscriber interface {
	OnSubscribe(ctx context.Context, name string) error
	OnUnsubscribe(ctx context.Context, name string) error
	OnEvent(ctx context.Context, name string, data any) error
}

// BaseSubscriber implements Subscriber with no-ops, for embedding.
type BaseSubscriber struct{}

func (b *BaseSubscriber) OnSubscribe(ctx context.Context, name string) error {
	return nil
}

func (b *BaseSubscriber) OnUnsubscribe(ctx context.Context, name string) error {
	return nil
}

func (b *BaseSubscriber) OnEvent(ctx context.Context, name string, data any) error {
	return nil
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(name string, data any)

func (f SubscriberFunc) OnSubscribe(ctx context.Context, name string) error {
	return nil
}

func (f SubscriberFunc) OnUnsubscribe(ctx context.Context, name string) error {
	return nil
}

func (f SubscriberFunc) OnEvent(ctx context.Context, name string, data any) error {
	f(name, data)
	return nil
}
