package deepstream

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// NoReconnect as MaxReconnectAttempts makes the connection give up on the
// first unexpected close. Zero would take the default instead.
const NoReconnect = -1

// Options tunes the connection and the request timeouts of every feature
// handler. Zero fields take the value from DefaultOptions.
type Options struct {
	HeartbeatInterval          time.Duration
	ReconnectIntervalIncrement time.Duration
	MaxReconnectInterval       time.Duration
	MaxReconnectAttempts       int
	Path                       string
	SubscriptionTimeout        time.Duration
	RPCAcceptTimeout           time.Duration
	RPCResponseTimeout         time.Duration
	OfflineBufferTimeout       time.Duration
	DialTimeout                time.Duration

	// MaxMessageSize caps each metadata and payload block on receive. Zero
	// means the protocol maximum.
	MaxMessageSize int
}

// DefaultOptions returns the stock deepstream client settings.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval:          30 * time.Second,
		ReconnectIntervalIncrement: 4 * time.Second,
		MaxReconnectInterval:       180 * time.Second,
		MaxReconnectAttempts:       5,
		Path:                       "/deepstream",
		SubscriptionTimeout:        2 * time.Second,
		RPCAcceptTimeout:           6 * time.Second,
		RPCResponseTimeout:         10 * time.Second,
		OfflineBufferTimeout:       2 * time.Second,
		DialTimeout:                30 * time.Second,
	}
}

// WithDefaults fills every zero field from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.ReconnectIntervalIncrement == 0 {
		o.ReconnectIntervalIncrement = d.ReconnectIntervalIncrement
	}
	if o.MaxReconnectInterval == 0 {
		o.MaxReconnectInterval = d.MaxReconnectInterval
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.Path == "" {
		o.Path = d.Path
	}
	if o.SubscriptionTimeout == 0 {
		o.SubscriptionTimeout = d.SubscriptionTimeout
	}
	if o.RPCAcceptTimeout == 0 {
		o.RPCAcceptTimeout = d.RPCAcceptTimeout
	}
	if o.RPCResponseTimeout == 0 {
		o.RPCResponseTimeout = d.RPCResponseTimeout
	}
	if o.OfflineBufferTimeout == 0 {
		o.OfflineBufferTimeout = d.OfflineBufferTimeout
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = d.DialTimeout
	}
	return o
}

// Validate rejects negative settings other than NoReconnect, reporting every
// offending field.
func (o Options) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"heartbeatInterval", o.HeartbeatInterval},
		{"reconnectIntervalIncrement", o.ReconnectIntervalIncrement},
		{"maxReconnectInterval", o.MaxReconnectInterval},
		{"subscriptionTimeout", o.SubscriptionTimeout},
		{"rpcAcceptTimeout", o.RPCAcceptTimeout},
		{"rpcResponseTimeout", o.RPCResponseTimeout},
		{"offlineBufferTimeout", o.OfflineBufferTimeout},
		{"dialTimeout", o.DialTimeout},
	}
	var err error
	for _, d := range durations {
		if d.value < 0 {
			err = multierr.Append(err, fmt.Errorf("%w: %s must not be negative", ErrInvalidOptions, d.name))
		}
	}
	if o.MaxReconnectAttempts < NoReconnect {
		err = multierr.Append(err, fmt.Errorf("%w: maxReconnectAttempts must be NoReconnect or more", ErrInvalidOptions))
	}
	if o.MaxMessageSize < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: maxMessageSize must not be negative", ErrInvalidOptions))
	}
	return err
}
