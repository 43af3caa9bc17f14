package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 8

	// MaxSectionSize is the largest metadata or payload block a 24-bit
	// length field can describe.
	MaxSectionSize = 1<<24 - 1
)

// Encode serializes m into a single frame. Messages that fail Validate, or
// whose metadata or payload would not fit a 24-bit length, are rejected.
func Encode(m *Message) ([]byte, error) {
	if !m.Topic.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTopic, uint8(m.Topic))
	}
	if !IsKnownAction(m.Topic, m.Action) {
		return nil, fmt.Errorf("%w: 0x%02x for topic %s", ErrUnknownAction, uint8(m.Action), m.Topic)
	}
	if reason := Validate(m); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, reason)
	}

	meta, err := encodeMetadata(m)
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}
	if len(meta) > MaxSectionSize {
		return nil, fmt.Errorf("%w: metadata is %d bytes", ErrMessageTooLarge, len(meta))
	}
	if len(payload) > MaxSectionSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrMessageTooLarge, len(payload))
	}

	frame := make([]byte, HeaderSize+len(meta)+len(payload))
	frame[0] = byte(m.Topic)
	action := BaseAction(m.Action)
	if m.IsAck {
		action |= AckFlag
	}
	frame[1] = byte(action)
	putUint24(frame[2:5], len(meta))
	putUint24(frame[5:8], len(payload))
	copy(frame[HeaderSize:], meta)
	copy(frame[HeaderSize+len(meta):], payload)
	return frame, nil
}

func encodeMetadata(m *Message) ([]byte, error) {
	md := metadata{
		Name:           m.Name,
		CorrelationID:  m.CorrelationID,
		Version:        m.Version,
		Reason:         m.Reason,
		URL:            m.URL,
		OriginalAction: uint8(m.OriginalAction),
	}
	if md.empty() {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func encodePayload(m *Message) ([]byte, error) {
	data := m.Data
	encoding := m.Encoding

	if len(data) == 0 && m.ParsedData != nil {
		b, err := json.Marshal(m.ParsedData)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		data = b
		encoding = EncodingJSON
	}
	if len(data) == 0 {
		return nil, nil
	}
	if encoding == EncodingNone {
		encoding = EncodingJSON
	}

	payload := make([]byte, 1+len(data))
	payload[0] = byte(encoding)
	copy(payload[1:], data)
	return payload, nil
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
