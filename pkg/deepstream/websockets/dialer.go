// Package websockets provides the socket transport for a deepstream
// connection over github.com/coder/websocket.
//
// A Dialer returns a Socket immediately and connects in the background.
// Each socket runs a read pump and a write pump; outgoing frames are queued
// without bound and written in order, optionally paced by a
// rate limiter. Every frame is sent as one binary WebSocket message.
package websockets

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AuthorizationProvider returns an Authorization header value for the
// WebSocket handshake, e.g. "Bearer token123".
type AuthorizationProvider func(ctx context.Context) (string, error)

// DefaultReadLimit admits the largest frame the wire format can carry.
const DefaultReadLimit = protocol.HeaderSize + 2*protocol.MaxSectionSize

// DialerBuilder provides a fluent interface for building a Dialer.
type DialerBuilder struct {
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeQueueSize   int
	readLimit        int64
	authProvider     AuthorizationProvider
	headers          map[string][]string
	limiter          *rate.Limiter
}

// NewDialer creates a new Dialer builder.
func NewDialer() *DialerBuilder {
	return &DialerBuilder{
		logger:           zap.NewNop(),
		dialTimeout:      30 * time.Second,
		writeQueueSize:   100,
		readLimit:        DefaultReadLimit,
	}
}

func (b *DialerBuilder) WithLogger(logger *zap.Logger) *DialerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout bounds the TCP connect and WebSocket handshake.
func (b *DialerBuilder) WithDialTimeout(timeout time.Duration) *DialerBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithWriteQueueSize sets how many queued frames the write queue has room
// for up front. The queue grows past it as needed. Default is 100.
func (b *DialerBuilder) WithWriteQueueSize(size int) *DialerBuilder {
	if size > 0 {
		b.writeQueueSize = size
	}
	return b
}

// WithReadLimit sets the largest WebSocket message the socket will accept.
func (b *DialerBuilder) WithReadLimit(limit int64) *DialerBuilder {
	if limit > 0 {
		b.readLimit = limit
	}
	return b
}

// WithAuthorization sets a static Authorization header value.
func (b *DialerBuilder) WithAuthorization(authHeader string) *DialerBuilder {
	b.authProvider = func(ctx context.Context) (string, error) {
		return authHeader, nil
	}
	return b
}

// WithAuthorizationProvider sets a function called on every dial to obtain
// the Authorization header.
func (b *DialerBuilder) WithAuthorizationProvider(provider AuthorizationProvider) *DialerBuilder {
	b.authProvider = provider
	return b
}

// WithHeaders adds HTTP headers to the WebSocket handshake.
func (b *DialerBuilder) WithHeaders(headers map[string][]string) *DialerBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	for key, values := range headers {
		b.headers[key] = values
	}
	return b
}

func (b *DialerBuilder) WithHeader(key, value string) *DialerBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithRateLimit paces outgoing frames to limit per second with the given
// burst. The limiter is shared by every socket the Dialer creates.
func (b *DialerBuilder) WithRateLimit(limit rate.Limit, burst int) *DialerBuilder {
	b.limiter = rate.NewLimiter(limit, burst)
	return b
}

// Build creates the Dialer.
func (b *DialerBuilder) Build() (*Dialer, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}
	return &Dialer{
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		writeQueueSize:   b.writeQueueSize,
		readLimit:        b.readLimit,
		authProvider:     b.authProvider,
		headers:          b.headers,
		limiter:          b.limiter,
	}, nil
}

// IsValid checks the configuration, filling in defaults where needed.
func (b *DialerBuilder) IsValid() error {
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.dialTimeout <= 0 {
		b.dialTimeout = 30 * time.Second
	}
	if b.writeQueueSize <= 0 {
		b.writeQueueSize = 100
	}
	if b.readLimit <= 0 {
		b.readLimit = DefaultReadLimit
	}
	if b.limiter != nil && b.limiter.Limit() != rate.Inf && b.limiter.Burst() <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}
	return nil
}

// Dialer opens WebSocket sockets for a deepstream connection. Its Dial
// method satisfies deepstream.Dialer.
type Dialer struct {
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeQueueSize   int
	readLimit        int64
	authProvider     AuthorizationProvider
	headers          map[string][]string
	limiter          *rate.Limiter
}

// Dial starts connecting to url and returns at once. events.OnOpen is
// called once the handshake completes; events.OnClose is called exactly
// once when the socket is gone, after any events.OnError.
func (d *Dialer) Dial(url string, events deepstream.SocketEvents) deepstream.Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &socket{
		url:     url,
		logger:  d.logger.With(zap.String("url", url)),
		events:  events,
		limiter: d.limiter,
		queue:   make([][]byte, 0, d.writeQueueSize),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(d)
	return s
}

func (d *Dialer) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	dialOptions := &websocket.DialOptions{}
	if d.headers != nil {
		dialOptions.HTTPHeader = make(map[string][]string)
		for key, values := range d.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	// may override a custom Authorization header
	if d.authProvider != nil {
		authValue, err := d.authProvider(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			if dialOptions.HTTPHeader == nil {
				dialOptions.HTTPHeader = make(map[string][]string)
			}
			dialOptions.HTTPHeader["Authorization"] = []string{authValue}
		}
	}

	conn, _, err := websocket.Dial(dialCtx, url, dialOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	conn.SetReadLimit(d.readLimit)
	return conn, nil
}
