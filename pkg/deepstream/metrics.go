package deepstream

import (
	"context"

	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
)

const (
	MetricMessagesSent      = "deepstream.messages.sent"
	MetricMessagesReceived  = "deepstream.messages.received"
	MetricParseErrors       = "deepstream.parse.errors"
	MetricReconnectAttempts = "deepstream.reconnect.attempts"
	MetricTimeouts          = "deepstream.timeouts"
	MetricConnectionState   = "deepstream.connection.state"
	MetricRPCDuration       = "deepstream.rpc.duration"
)

// Metrics holds the instruments the client reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sent        o11y.Counter
	received    o11y.Counter
	parseErrors o11y.Counter
	reconnects  o11y.Counter
	timeouts    o11y.Counter
	state       o11y.Gauge
	rpcDuration o11y.Histogram
}

// NewMetrics creates the client instruments from provider. A nil provider
// yields a nil *Metrics.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}
	return &Metrics{
		sent:        provider.Counter(MetricMessagesSent),
		received:    provider.Counter(MetricMessagesReceived),
		parseErrors: provider.Counter(MetricParseErrors),
		reconnects:  provider.Counter(MetricReconnectAttempts),
		timeouts:    provider.Counter(MetricTimeouts),
		state:       provider.Gauge(MetricConnectionState),
		rpcDuration: provider.Histogram(MetricRPCDuration),
	}
}

func topicLabel(topic protocol.Topic) o11y.Label {
	return o11y.Label{Key: "topic", Value: topic.String()}
}

func (m *Metrics) MessageSent(topic protocol.Topic) {
	if m != nil {
		m.sent.Add(context.Background(), 1, topicLabel(topic))
	}
}

func (m *Metrics) MessageReceived(topic protocol.Topic) {
	if m != nil {
		m.received.Add(context.Background(), 1, topicLabel(topic))
	}
}

func (m *Metrics) ParseError(kind string) {
	if m != nil {
		m.parseErrors.Add(context.Background(), 1, o11y.Label{Key: "kind", Value: kind})
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnects.Add(context.Background(), 1)
	}
}

func (m *Metrics) Timeout(topic protocol.Topic, event Event) {
	if m != nil {
		m.timeouts.Add(context.Background(), 1, topicLabel(topic), o11y.Label{Key: "event", Value: string(event)})
	}
}

func (m *Metrics) ConnectionState(state ConnectionState) {
	if m != nil {
		m.state.Set(context.Background(), float64(state))
	}
}

// RPCDuration records the round trip of a completed remote call in seconds.
func (m *Metrics) RPCDuration(name string, seconds float64, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.rpcDuration.Record(context.Background(), seconds,
		o11y.Label{Key: "rpc", Value: name}, o11y.Label{Key: "result", Value: result})
}
