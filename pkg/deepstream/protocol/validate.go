package protocol

import "fmt"

// Validate checks a message against the static action table and returns a
// human-readable reason when it is invalid, or "" when it is fine.
// Error-class actions are exempt from the correlation id and ack checks.
func Validate(m *Message) string {
	spec, ok := lookupAction(m.Topic, BaseAction(m.Action))
	if !ok {
		return fmt.Sprintf("unknown action 0x%02x for topic %s", uint8(m.Action), m.Topic)
	}
	if IsErrorAction(m.Action) {
		return ""
	}
	if m.IsAck && !spec.ackable {
		return fmt.Sprintf("%s %s is not ackable", m.Topic, spec.name)
	}
	if spec.correlationID && m.CorrelationID == "" {
		return fmt.Sprintf("%s %s requires a correlation id", m.Topic, spec.name)
	}
	if !spec.correlationID && m.CorrelationID != "" {
		return fmt.Sprintf("%s %s must not carry a correlation id", m.Topic, spec.name)
	}
	return ""
}
