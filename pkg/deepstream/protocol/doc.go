// Package protocol implements the deepstream binary wire format.
//
// Every message travels in a frame with a fixed 8-byte header:
//
//	┌─────────┬──────────────┬──────────────────────┬──────────────────────┐
//	│ Topic   │ Action | Ack │ Metadata length      │ Payload length       │
//	│ 1 byte  │ 1 byte       │ 3 bytes, big-endian  │ 3 bytes, big-endian  │
//	└─────────┴──────────────┴──────────────────────┴──────────────────────┘
//
// followed by the metadata block (a JSON object with single-character keys)
// and the payload block (an encoding tag byte, 'j' or 'b', then the bytes).
// Frames are written back to back with no delimiter; the header lengths are
// enough to find the next frame even when payloads contain arbitrary bytes.
//
// The codec is pure: Encode, Parse and Validate do no I/O and keep no state.
// Decoder adds the one piece of state a stream reader needs, the unconsumed
// tail of a partially received frame.
package protocol
