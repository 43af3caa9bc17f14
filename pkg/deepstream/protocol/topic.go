package protocol

import "fmt"

// Topic identifies the subsystem a message belongs to.
type Topic uint8

const (
	TopicConnection Topic = 0x01
	TopicAuth       Topic = 0x02
	TopicEvent      Topic = 0x03
	TopicRecord     Topic = 0x04
	TopicRPC        Topic = 0x05
	TopicPresence   Topic = 0x06
	TopicParser     Topic = 0x07
)

var topicNames = map[Topic]string{
	TopicConnection: "CONNECTION",
	TopicAuth:       "AUTH",
	TopicEvent:      "EVENT",
	TopicRecord:     "RECORD",
	TopicRPC:        "RPC",
	TopicPresence:   "PRESENCE",
	TopicParser:     "PARSER",
}

// String returns the string representation of the topic.
func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOPIC(0x%02x)", uint8(t))
}

// Valid reports whether t is a topic this codec understands.
func (t Topic) Valid() bool {
	_, ok := topicNames[t]
	return ok
}
