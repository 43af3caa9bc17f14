package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMessageTooLarge = errors.New("maximum message size exceeded")
	ErrUnknownTopic    = errors.New("unknown topic")
	ErrUnknownAction   = errors.New("unknown action")
	ErrInvalidMessage  = errors.New("invalid message")
)

// ParseErrorKind classifies a frame that could not be turned into a Message.
// The values match the protocol event names so they can be reported as-is.
type ParseErrorKind string

const (
	KindUnknownTopic               ParseErrorKind = "UNKNOWN_TOPIC"
	KindUnknownAction              ParseErrorKind = "UNKNOWN_ACTION"
	KindInvalidMessage             ParseErrorKind = "INVALID_MESSAGE"
	KindMaximumMessageSizeExceeded ParseErrorKind = "MAXIMUM_MESSAGE_SIZE_EXCEEDED"
)

// ParseError describes a single bad frame. Parsing carries on with the next
// frame after one of these.
type ParseError struct {
	Kind   ParseErrorKind
	Topic  Topic
	Action Action
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (topic %s, action 0x%02x)", e.Kind, e.Topic, uint8(e.Action))
	}
	return fmt.Sprintf("%s (topic %s, action 0x%02x): %s", e.Kind, e.Topic, uint8(e.Action), e.Detail)
}

// Unwrap maps the kind onto the package sentinel so callers can use errors.Is.
func (e *ParseError) Unwrap() error {
	switch e.Kind {
	case KindUnknownTopic:
		return ErrUnknownTopic
	case KindUnknownAction:
		return ErrUnknownAction
	case KindMaximumMessageSizeExceeded:
		return ErrMessageTooLarge
	default:
		return ErrInvalidMessage
	}
}
