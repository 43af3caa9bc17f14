package protocol

import (
	"encoding/json"
	"fmt"
)

// ParseResult is the outcome of decoding one frame: exactly one of Message
// and Err is set.
type ParseResult struct {
	Message *Message
	Err     *ParseError
}

// Parse decodes every complete frame in buf. A trailing partial frame is
// returned untouched as rest so the caller can prepend it to the next read.
// Parse never panics on malformed input; each bad frame becomes a
// ParseResult with Err set and decoding resumes at the next frame boundary.
func Parse(buf []byte) (results []ParseResult, rest []byte) {
	for len(buf) >= HeaderSize {
		h := readHeader(buf)
		if len(buf) < h.frameLen() {
			break
		}
		results = append(results, parseFrame(buf[:h.frameLen()], h))
		buf = buf[h.frameLen():]
	}
	return results, buf
}

type header struct {
	topic      Topic
	action     Action
	metaLen    int
	payloadLen int
}

func readHeader(b []byte) header {
	return header{
		topic:      Topic(b[0]),
		action:     Action(b[1]),
		metaLen:    uint24(b[2:5]),
		payloadLen: uint24(b[5:8]),
	}
}

func (h header) frameLen() int {
	return HeaderSize + h.metaLen + h.payloadLen
}

func (h header) parseError(kind ParseErrorKind, format string, args ...any) ParseResult {
	return ParseResult{Err: &ParseError{
		Kind:   kind,
		Topic:  h.topic,
		Action: BaseAction(h.action),
		Detail: fmt.Sprintf(format, args...),
	}}
}

func parseFrame(frame []byte, h header) ParseResult {
	if !h.topic.Valid() {
		return h.parseError(KindUnknownTopic, "topic 0x%02x", uint8(h.topic))
	}
	action := BaseAction(h.action)
	if !IsKnownAction(h.topic, action) {
		return h.parseError(KindUnknownAction, "action 0x%02x", uint8(action))
	}

	m := &Message{
		Topic:   h.topic,
		Action:  action,
		IsAck:   h.action&AckFlag != 0,
		IsError: IsErrorAction(action),
	}

	meta := frame[HeaderSize : HeaderSize+h.metaLen]
	if len(meta) > 0 {
		var md metadata
		if err := json.Unmarshal(meta, &md); err != nil {
			return h.parseError(KindInvalidMessage, "invalid metadata: %v", err)
		}
		m.Name = md.Name
		m.CorrelationID = md.CorrelationID
		m.Version = md.Version
		m.Reason = md.Reason
		m.URL = md.URL
		m.OriginalAction = Action(md.OriginalAction)
	}

	payload := frame[HeaderSize+h.metaLen:]
	if len(payload) > 0 {
		m.Encoding = Encoding(payload[0])
		// Copy so the message does not pin or alias the read buffer.
		m.Data = append([]byte(nil), payload[1:]...)
		switch m.Encoding {
		case EncodingJSON:
			if len(m.Data) > 0 {
				if err := json.Unmarshal(m.Data, &m.ParsedData); err != nil {
					return h.parseError(KindInvalidMessage, "invalid JSON payload: %v", err)
				}
			}
		case EncodingBinary:
		default:
			return h.parseError(KindInvalidMessage, "unknown payload encoding 0x%02x", payload[0])
		}
	}

	return ParseResult{Message: m}
}

// Decoder turns a byte stream into messages, holding any partial frame
// between calls to Feed. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	limit   int
	discard int
}

// NewDecoder returns a Decoder that rejects any metadata or payload block
// larger than maxSection bytes. A non-positive maxSection means
// MaxSectionSize.
func NewDecoder(maxSection int) *Decoder {
	if maxSection <= 0 || maxSection > MaxSectionSize {
		maxSection = MaxSectionSize
	}
	return &Decoder{limit: maxSection}
}

// Feed appends data to the stream and returns a result for every frame
// completed by it. An oversized frame yields one
// MAXIMUM_MESSAGE_SIZE_EXCEEDED result and its bytes are skipped, even if
// they arrive over several later calls.
func (d *Decoder) Feed(data []byte) []ParseResult {
	if d.discard > 0 {
		n := min(d.discard, len(data))
		data = data[n:]
		d.discard -= n
	}
	d.buf = append(d.buf, data...)

	var results []ParseResult
	for len(d.buf) >= HeaderSize {
		h := readHeader(d.buf)
		if h.metaLen > d.limit || h.payloadLen > d.limit {
			results = append(results, h.parseError(KindMaximumMessageSizeExceeded,
				"metadata %d bytes, payload %d bytes, limit %d", h.metaLen, h.payloadLen, d.limit))
			if len(d.buf) >= h.frameLen() {
				d.buf = d.buf[h.frameLen():]
				continue
			}
			d.discard = h.frameLen() - len(d.buf)
			d.buf = d.buf[:0]
			break
		}
		if len(d.buf) < h.frameLen() {
			break
		}
		results = append(results, parseFrame(d.buf[:h.frameLen()], h))
		d.buf = d.buf[h.frameLen():]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}
	return results
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any buffered partial frame, e.g. when the socket is replaced.
func (d *Decoder) Reset() {
	d.buf = nil
	d.discard = 0
}
