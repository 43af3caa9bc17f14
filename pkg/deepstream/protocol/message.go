package protocol

import (
	"strings"
)

// Encoding is the payload encoding tag.
type Encoding byte

const (
	EncodingNone   Encoding = 0
	EncodingJSON   Encoding = 'j'
	EncodingBinary Encoding = 'b'
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "JSON"
	case EncodingBinary:
		return "BINARY"
	default:
		return "NONE"
	}
}

// Message is a single decoded protocol message.
type Message struct {
	Topic   Topic
	Action  Action
	IsAck   bool
	IsError bool

	Name           string
	CorrelationID  string
	Version        int
	Reason         string
	URL            string
	OriginalAction Action

	// Data holds the raw payload without its encoding tag. On encode, an
	// empty Data with a non-nil ParsedData is marshaled as JSON.
	Data       []byte
	Encoding   Encoding
	ParsedData any
}

// String renders a compact, log-friendly description of the message.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Topic.String())
	b.WriteByte(' ')
	if m.IsAck {
		b.WriteString(ActionName(m.Topic, m.Action|AckFlag))
	} else {
		b.WriteString(ActionName(m.Topic, m.Action))
	}
	if m.Name != "" {
		b.WriteString(" name=")
		b.WriteString(m.Name)
	}
	if m.CorrelationID != "" {
		b.WriteString(" cid=")
		b.WriteString(m.CorrelationID)
	}
	if m.Reason != "" {
		b.WriteString(" reason=")
		b.WriteString(m.Reason)
	}
	return b.String()
}

// metadata is the JSON shape of the metadata block.
type metadata struct {
	Name           string `json:"n,omitempty"`
	CorrelationID  string `json:"c,omitempty"`
	Version        int    `json:"v,omitempty"`
	Reason         string `json:"r,omitempty"`
	URL            string `json:"u,omitempty"`
	OriginalAction uint8  `json:"a,omitempty"`
}

func (md metadata) empty() bool {
	return md == metadata{}
}
