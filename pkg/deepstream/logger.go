package deepstream

import (
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
)

// Monitor receives client lifecycle notifications. Every method is called
// on the event loop and must not block.
type Monitor interface {
	OnStateChange(change StateChange)
	OnWarning(topic protocol.Topic, event Event, message string)
	OnError(topic protocol.Topic, event Event, message string)
}

// Logger wraps a zap logger, tagging entries with the protocol topic and
// event and forwarding warnings and errors to the optional Monitor.
type Logger struct {
	zap     *zap.Logger
	monitor Monitor
}

// NewLogger creates a Logger. Both arguments are optional.
func NewLogger(logger *zap.Logger, monitor Monitor) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{zap: logger, monitor: monitor}
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Named returns a Logger whose zap logger has the given name appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), monitor: l.monitor}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Warn logs a recoverable condition.
func (l *Logger) Warn(topic protocol.Topic, event Event, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(fields, zap.Stringer("topic", topic), zap.String("event", string(event)))...)
	if l.monitor != nil {
		l.monitor.OnWarning(topic, event, msg)
	}
}

// Error logs a failure the application may need to act on.
func (l *Logger) Error(topic protocol.Topic, event Event, msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(fields, zap.Stringer("topic", topic), zap.String("event", string(event)))...)
	if l.monitor != nil {
		l.monitor.OnError(topic, event, msg)
	}
}

// StateChanged records a connection state transition.
func (l *Logger) StateChanged(change StateChange) {
	l.zap.Debug("Connection state changed",
		zap.Stringer("from", change.From),
		zap.Stringer("to", change.To))
	if l.monitor != nil {
		l.monitor.OnStateChange(change)
	}
}
