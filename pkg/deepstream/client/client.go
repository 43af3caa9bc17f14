// Package client ties the connection, the timeout registry, the offline
// queue and the feature handlers into one deepstream client.
//
// All client state lives on a single event loop. The methods of Client are
// safe to call from any goroutine, but the blocking ones (Connect, Login,
// Close and rpc Make) must not be called from a callback running on the
// loop.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/connection"
	"github.com/tsarna/deepstream/pkg/deepstream/emitter"
	"github.com/tsarna/deepstream/pkg/deepstream/event"
	"github.com/tsarna/deepstream/pkg/deepstream/eventloop"
	"github.com/tsarna/deepstream/pkg/deepstream/rpc"
	"github.com/tsarna/deepstream/pkg/deepstream/timers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Client is a deepstream client.
type Client struct {
	url       string
	logger    *zap.Logger
	services  *deepstream.Services
	loop      *eventloop.Loop
	ownsLoop  bool
	scheduler *timers.Scheduler
	conn      *connection.Connection
	events    *event.Handler
	rpcs      *rpc.Handler

	state    atomic.Int32
	started  atomic.Bool
	closed   atomic.Bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Connect starts the event loop, unless the client was built WithLoop,
// and opens the connection. Authentication follows with Login.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return deepstream.ErrAlreadyConnecting
	}
	if c.ownsLoop {
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.loopDone = make(chan struct{})
		go func() {
			defer close(c.loopDone)
			c.loop.Run(runCtx)
		}()
	}
	c.logger.Info("Connecting", zap.String("url", c.url))
	return c.call(ctx, func() error { return c.conn.Open(c.url) })
}

// Login authenticates with params and waits for the outcome. On success it
// returns the server's login data. The params are kept and resent on every
// reconnect.
func (c *Client) Login(ctx context.Context, params any) (any, error) {
	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	c.LoginAsync(params, func(data any, err error) {
		done <- outcome{data, err}
	})
	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoginAsync authenticates with params. callback runs on the event loop
// once, with the login data or an error. Terminal failures are classified
// as such; see deepstream.IsTerminal.
func (c *Client) LoginAsync(params any, callback func(data any, err error)) {
	c.loop.Post(func() {
		err := c.conn.Authenticate(params, func(success bool, data any) {
			if success {
				callback(data, nil)
				return
			}
			callback(data, loginError(data))
		})
		if err != nil {
			callback(nil, err)
		}
	})
}

func loginError(data any) error {
	var reason string
	if m, ok := data.(map[string]any); ok {
		reason, _ = m["reason"].(string)
	}
	switch deepstream.Event(reason) {
	case deepstream.EventChallengeDenied:
		return deepstream.Terminal("login", deepstream.ErrChallengeDenied)
	case deepstream.EventTooManyAuthAttempts:
		return deepstream.Terminal("login", deepstream.ErrTooManyAuthAttempts)
	case deepstream.EventAuthenticationTimeout:
		return deepstream.Terminal("login", deepstream.ErrAuthenticationTimeout)
	case deepstream.EventAuthenticationSuperseded:
		return deepstream.Invalid("login", deepstream.ErrAuthenticationSuperseded)
	}
	return deepstream.Invalid("login", fmt.Errorf("%w: %v", deepstream.ErrAuthenticationFailed, data))
}

// Close closes the connection, waiting for the server to confirm. If ctx
// ends first the socket is closed without confirmation and the context
// error is returned. The event loop is stopped afterwards.
func (c *Client) Close(ctx context.Context) error {
	if !c.started.Load() || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	closed := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(closed) }) }

	c.loop.Post(func() {
		c.conn.Close()
		if c.conn.State() != deepstream.StateClosing {
			signal()
			return
		}
		var h emitter.Handle
		h = c.conn.OnStateChange(func(change deepstream.StateChange) {
			if change.To != deepstream.StateClosing {
				c.conn.OffStateChange(h)
				signal()
			}
		})
	})

	if !c.ownsLoop {
		return nil
	}

	var errs error
	select {
	case <-closed:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("waiting for close confirmation: %w", ctx.Err()))
		c.loop.Post(c.conn.Terminate)
		<-closed
	}

	c.cancel()
	<-c.loopDone
	c.logger.Info("Closed", zap.String("url", c.url))
	return errs
}

// State returns the current connection state.
func (c *Client) State() deepstream.ConnectionState {
	return deepstream.ConnectionState(c.state.Load())
}

// OnStateChange registers fn for every connection state change. fn runs on
// the event loop.
func (c *Client) OnStateChange(fn func(deepstream.StateChange)) {
	c.loop.Post(func() { c.conn.OnStateChange(fn) })
}

// Event returns the event handler.
func (c *Client) Event() *event.Handler {
	return c.events
}

// RPC returns the rpc handler.
func (c *Client) RPC() *rpc.Handler {
	return c.rpcs
}

// Services returns the services shared by the client's components.
func (c *Client) Services() *deepstream.Services {
	return c.services
}

func (c *Client) stateChanged(change deepstream.StateChange) {
	c.state.Store(int32(change.To))
}

// call runs fn on the loop and waits for its result. On a loop the client
// does not own it cannot wait, so errors are only logged.
func (c *Client) call(ctx context.Context, fn func() error) error {
	if !c.ownsLoop {
		c.loop.Post(func() {
			if err := fn(); err != nil {
				c.logger.Warn("Client call failed", zap.Error(err))
			}
		})
		return nil
	}

	done := make(chan error, 1)
	c.loop.Post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
