package client

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/ack"
	"github.com/tsarna/deepstream/pkg/deepstream/connection"
	"github.com/tsarna/deepstream/pkg/deepstream/event"
	"github.com/tsarna/deepstream/pkg/deepstream/eventloop"
	"github.com/tsarna/deepstream/pkg/deepstream/limbo"
	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
	"github.com/tsarna/deepstream/pkg/deepstream/rpc"
	"github.com/tsarna/deepstream/pkg/deepstream/timers"
	"github.com/tsarna/deepstream/pkg/deepstream/websockets"
	"go.uber.org/zap"
)

// ClientBuilder provides a fluent interface for building deepstream clients.
type ClientBuilder struct {
	url     string
	logger  *zap.Logger
	options deepstream.Options
	dialer  deepstream.Dialer
	clock   clock.Clock
	monitor deepstream.Monitor
	metrics o11y.MetricsProvider
	tracing o11y.TracingProvider
	loop    *eventloop.Loop
}

// NewClient creates a new client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:  zap.NewNop(),
		options: deepstream.DefaultOptions(),
	}
}

// WithURL sets the server URL. Scheme, host and path may be partial, e.g.
// "localhost:6020".
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithOptions sets the client options. Zero fields keep their defaults.
func (b *ClientBuilder) WithOptions(options deepstream.Options) *ClientBuilder {
	b.options = options
	return b
}

// WithDialer replaces the WebSocket transport.
func (b *ClientBuilder) WithDialer(dialer deepstream.Dialer) *ClientBuilder {
	b.dialer = dialer
	return b
}

// WithClock sets the clock used for every timer. Passing a *clock.Mock
// puts the timers in manual mode, driven by the scheduler's Advance.
func (b *ClientBuilder) WithClock(clk clock.Clock) *ClientBuilder {
	b.clock = clk
	return b
}

// WithMonitor sets an optional monitor that receives state changes,
// warnings and errors.
func (b *ClientBuilder) WithMonitor(monitor deepstream.Monitor) *ClientBuilder {
	b.monitor = monitor
	return b
}

// WithMetrics sets the provider the client reports its metrics to.
func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

// WithTracing sets the provider blocking RPC calls are traced with.
func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracing = provider
	return b
}

// WithObservability sets both metrics and tracing providers
func (b *ClientBuilder) WithObservability(metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *ClientBuilder {
	b.metrics = metrics
	b.tracing = tracing
	return b
}

// WithLoop makes the client use loop instead of its own. The client never
// runs a loop it did not create; the caller drives it, e.g. with Drain in
// tests.
func (b *ClientBuilder) WithLoop(loop *eventloop.Loop) *ClientBuilder {
	b.loop = loop
	return b
}

// Build creates and returns a new client with the configured options.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	options := b.options.WithDefaults()
	url, err := connection.NormalizeURL(b.url, options.Path)
	if err != nil {
		return nil, deepstream.Invalid("build", err)
	}

	loop, ownsLoop := b.loop, false
	if loop == nil {
		loop, ownsLoop = eventloop.New(b.logger), true
	}

	dialer := b.dialer
	if dialer == nil {
		wsDialer, err := websockets.NewDialer().
			WithLogger(b.logger.Named("websocket")).
			WithDialTimeout(options.DialTimeout).
			Build()
		if err != nil {
			return nil, err
		}
		dialer = wsDialer.Dial
	}

	scheduler := timers.NewScheduler(b.clock, loop, b.logger)
	services := &deepstream.Services{
		Options: options,
		Logger:  deepstream.NewLogger(b.logger, b.monitor),
		Loop:    loop,
		Timers:  scheduler,
		Metrics: deepstream.NewMetrics(b.metrics),
		Tracing: b.tracing,
	}

	conn := connection.New(services, dialer)
	services.Connection = conn
	services.Timeouts = ack.NewRegistry(services)
	services.Offline = limbo.NewQueue(services)

	c := &Client{
		url:       url,
		logger:    b.logger,
		services:  services,
		loop:      loop,
		ownsLoop:  ownsLoop,
		scheduler: scheduler,
		conn:      conn,
		events:    event.NewHandler(services),
		rpcs:      rpc.NewHandler(services),
	}
	conn.OnStateChange(c.stateChanged)
	return c, nil
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if err := b.options.Validate(); err != nil {
		return err
	}

	// Logger is optional - we provide a default nop logger
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.clock == nil {
		b.clock = clock.New()
	}

	return nil
}
