package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/client"
	"github.com/tsarna/deepstream/pkg/deepstream/websockets"
)

// ClientConfig is one decoded client block.
type ClientConfig struct {
	Name    string
	URL     string
	Auth    any
	Options deepstream.Options

	Headers        map[string]string
	Authorization  string
	RateLimit      rate.Limit
	RateBurst      int
	WriteQueueSize int

	DefRange hcl.Range
}

type ClientDefinition struct {
	URL  hcl.Expression `hcl:"url"`
	Auth hcl.Expression `hcl:"auth,optional"`
	Path *string        `hcl:"path,optional"`

	HeartbeatInterval          hcl.Expression `hcl:"heartbeat_interval,optional"`
	ReconnectIntervalIncrement hcl.Expression `hcl:"reconnect_interval_increment,optional"`
	MaxReconnectInterval       hcl.Expression `hcl:"max_reconnect_interval,optional"`
	MaxReconnectAttempts       *int           `hcl:"max_reconnect_attempts,optional"`
	SubscriptionTimeout        hcl.Expression `hcl:"subscription_timeout,optional"`
	RPCAcceptTimeout           hcl.Expression `hcl:"rpc_accept_timeout,optional"`
	RPCResponseTimeout         hcl.Expression `hcl:"rpc_response_timeout,optional"`
	OfflineBufferTimeout       hcl.Expression `hcl:"offline_buffer_timeout,optional"`
	DialTimeout                hcl.Expression `hcl:"dial_timeout,optional"`
	MaxMessageSize             *int           `hcl:"max_message_size,optional"`

	Headers        map[string]string `hcl:"headers,optional"`
	Authorization  hcl.Expression    `hcl:"authorization,optional"`
	RateLimit      *float64          `hcl:"rate_limit,optional"`
	RateBurst      *int              `hcl:"rate_burst,optional"`
	WriteQueueSize *int              `hcl:"write_queue_size,optional"`

	DefRange hcl.Range `hcl:",def_range"`
}

func (c *Config) processClientBlock(block *hcl.Block) hcl.Diagnostics {
	def := ClientDefinition{}
	diags := gohcl.DecodeBody(block.Body, c.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	name := block.Labels[0]
	if existing, ok := c.Clients[name]; ok {
		return diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Client already defined",
			Detail:   fmt.Sprintf("Client %s already defined at %s", name, existing.DefRange),
			Subject:  &def.DefRange,
		})
	}

	cc := &ClientConfig{Name: name, DefRange: def.DefRange, RateLimit: rate.Inf}

	diags = diags.Extend(gohcl.DecodeExpression(def.URL, c.evalCtx, &cc.URL))
	if IsExpressionProvided(def.Authorization) {
		diags = diags.Extend(gohcl.DecodeExpression(def.Authorization, c.evalCtx, &cc.Authorization))
	}
	if IsExpressionProvided(def.Auth) {
		auth, authDiags := c.evaluateJSON(def.Auth)
		diags = diags.Extend(authDiags)
		cc.Auth = auth
	}

	durations := []struct {
		expr   hcl.Expression
		target *time.Duration
	}{
		{def.HeartbeatInterval, &cc.Options.HeartbeatInterval},
		{def.ReconnectIntervalIncrement, &cc.Options.ReconnectIntervalIncrement},
		{def.MaxReconnectInterval, &cc.Options.MaxReconnectInterval},
		{def.SubscriptionTimeout, &cc.Options.SubscriptionTimeout},
		{def.RPCAcceptTimeout, &cc.Options.RPCAcceptTimeout},
		{def.RPCResponseTimeout, &cc.Options.RPCResponseTimeout},
		{def.OfflineBufferTimeout, &cc.Options.OfflineBufferTimeout},
		{def.DialTimeout, &cc.Options.DialTimeout},
	}
	for _, d := range durations {
		if IsExpressionProvided(d.expr) {
			value, durationDiags := c.ParseDuration(d.expr)
			diags = diags.Extend(durationDiags)
			*d.target = value
		}
	}

	if def.Path != nil {
		cc.Options.Path = *def.Path
	}
	if def.MaxReconnectAttempts != nil {
		cc.Options.MaxReconnectAttempts = *def.MaxReconnectAttempts
		if cc.Options.MaxReconnectAttempts == 0 {
			cc.Options.MaxReconnectAttempts = deepstream.NoReconnect
		}
	}
	if def.MaxMessageSize != nil {
		cc.Options.MaxMessageSize = *def.MaxMessageSize
	}
	cc.Headers = def.Headers
	if def.RateLimit != nil {
		cc.RateLimit = rate.Limit(*def.RateLimit)
		cc.RateBurst = 1
	}
	if def.RateBurst != nil {
		cc.RateBurst = *def.RateBurst
	}
	if def.WriteQueueSize != nil {
		cc.WriteQueueSize = *def.WriteQueueSize
	}

	if err := cc.Options.Validate(); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid client options",
			Detail:   err.Error(),
			Subject:  &def.DefRange,
		})
	}
	if diags.HasErrors() {
		return diags
	}

	c.Clients[name] = cc
	return diags
}

// evaluateJSON evaluates expr into plain Go values, as encoding/json would
// decode them.
func (c *Config) evaluateJSON(expr hcl.Expression) (any, hcl.Diagnostics) {
	val, diags := expr.Value(c.evalCtx)
	if diags.HasErrors() || val.IsNull() {
		return nil, diags
	}
	data, err := ctyjson.SimpleJSONValue{Value: val}.MarshalJSON()
	if err == nil {
		var out any
		if err = json.Unmarshal(data, &out); err == nil {
			return out, diags
		}
	}
	return nil, diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid value",
		Detail:   fmt.Sprintf("Value cannot be represented as JSON: %s", err),
		Subject:  expr.Range().Ptr(),
	})
}

// Dialer builds the WebSocket dialer described by the block.
func (cc *ClientConfig) Dialer(logger *zap.Logger) (*websockets.Dialer, error) {
	options := cc.Options.WithDefaults()
	builder := websockets.NewDialer().
		WithLogger(logger).
		WithDialTimeout(options.DialTimeout)
	if cc.RateLimit != rate.Inf {
		builder = builder.WithRateLimit(cc.RateLimit, cc.RateBurst)
	}
	for key, value := range cc.Headers {
		builder = builder.WithHeader(key, value)
	}
	if cc.Authorization != "" {
		builder = builder.WithAuthorization(cc.Authorization)
	}
	if cc.WriteQueueSize > 0 {
		builder = builder.WithWriteQueueSize(cc.WriteQueueSize)
	}
	return builder.Build()
}

// NewClientBuilder returns a client builder preconfigured from the block.
// Further With calls may override any setting.
func (cc *ClientConfig) NewClientBuilder(logger *zap.Logger) (*client.ClientBuilder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer, err := cc.Dialer(logger.Named("websocket"))
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", cc.Name, err)
	}
	return client.NewClient().
		WithURL(cc.URL).
		WithLogger(logger).
		WithOptions(cc.Options).
		WithDialer(dialer.Dial), nil
}
