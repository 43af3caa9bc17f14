// Package config loads deepstream client definitions from HCL files.
//
//	client "main" {
//	  url  = "localhost:6020"
//	  auth = { username = env.USER }
//
//	  heartbeat_interval = "30s"
//	  max_reconnect_interval = "PT3M"
//	  rpc_response_timeout = 10
//	}
//
// Durations accept a number of seconds, a Go duration string or an ISO 8601
// duration. Environment variables are available as attributes of env, and
// function blocks define helpers for the other expressions:
//
//	function "token" {
//	  params = [user]
//	  result = sha256(format("%s:%s", user, env.DEEPSTREAM_SECRET))
//	}
package config

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

var configSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "client", LabelNames: []string{"name"}},
	},
}

type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
}

type Config struct {
	Logger    *zap.Logger
	Constants map[string]cty.Value
	Clients   map[string]*ClientConfig
	Functions map[string]function.Function

	evalCtx *hcl.EvalContext
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger: zap.NewNop(),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds files or directories (by path) or raw HCL ([]byte).
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	config := &Config{
		Logger:    cb.logger,
		Constants: map[string]cty.Value{"env": GetEnvObject()},
		Clients:   make(map[string]*ClientConfig),
	}
	config.evalCtx = &hcl.EvalContext{Variables: config.Constants}

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	userFuncs, bodies, addDiags := config.ExtractUserFunctions(bodies)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}
	config.Functions, addDiags = config.GetFunctions(userFuncs)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}
	config.evalCtx.Functions = config.Functions

	for _, body := range bodies {
		content, contentDiags := body.Content(configSchema)
		diags = diags.Extend(contentDiags)
		if content == nil {
			continue
		}
		for _, block := range content.Blocks {
			switch block.Type {
			case "client":
				diags = diags.Extend(config.processClientBlock(block))
			}
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config.Logger.Info("Config built successfully", zap.Strings("clients", config.ClientNames()))
	return config, diags
}

// ClientNames returns the names of the defined clients, sorted.
func (c *Config) ClientNames() []string {
	names := make([]string, 0, len(c.Clients))
	for name := range c.Clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client returns the client called name. An empty name selects the only
// client when exactly one is defined.
func (c *Config) Client(name string) (*ClientConfig, error) {
	if name == "" {
		if len(c.Clients) != 1 {
			return nil, fmt.Errorf("config defines %d clients, a client name is required", len(c.Clients))
		}
		for _, client := range c.Clients {
			return client, nil
		}
	}
	client, ok := c.Clients[name]
	if !ok {
		return nil, fmt.Errorf("client %q is not defined", name)
	}
	return client, nil
}
