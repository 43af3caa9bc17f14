package subutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsarna/deepstream/pkg/deepstream/event"
)

// LoggingSubscriber logs every call before passing it to the wrapped
// subscriber. With a nil wrapped subscriber it only logs.
type LoggingSubscriber struct {
	wrapped  event.Subscriber
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

func NewLoggingSubscriber(wrapped event.Subscriber, logger *zap.Logger, logLevel zapcore.Level) *LoggingSubscriber {
	return NewNamedLoggingSubscriber(wrapped, logger, logLevel, "LoggingSubscriber")
}

// NewNamedLoggingSubscriber is NewLoggingSubscriber with a name that tags
// every entry.
func NewNamedLoggingSubscriber(wrapped event.Subscriber, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingSubscriber {
	return &LoggingSubscriber{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingSubscriber) OnSubscribe(ctx context.Context, name string) error {
	l.logger.Log(l.logLevel, "Subscribed",
		zap.String("subscriber", l.name),
		zap.String("event", name),
	)
	if l.wrapped != nil {
		return l.wrapped.OnSubscribe(ctx, name)
	}
	return nil
}

func (l *LoggingSubscriber) OnUnsubscribe(ctx context.Context, name string) error {
	l.logger.Log(l.logLevel, "Unsubscribed",
		zap.String("subscriber", l.name),
		zap.String("event", name),
	)
	if l.wrapped != nil {
		return l.wrapped.OnUnsubscribe(ctx, name)
	}
	return nil
}

func (l *LoggingSubscriber) OnEvent(ctx context.Context, name string, data any) error {
	var text string
	switch v := data.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	case nil:
		text = "<nil>"
	default:
		text = fmt.Sprintf("%v", v)
	}

	l.logger.Log(l.logLevel, "Event received",
		zap.String("subscriber", l.name),
		zap.String("event", name),
		zap.String("data", text),
	)
	if l.wrapped != nil {
		return l.wrapped.OnEvent(ctx, name, data)
	}
	return nil
}
