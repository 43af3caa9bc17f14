package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/tsarna/deepstream/pkg/deepstream"
)

func TestBuildFromFile(t *testing.T) {
	t.Setenv("DEEPSTREAM_TEST_PASSWORD", "s3cret")

	config, diags := NewConfig().WithLogger(zaptest.NewLogger(t)).WithSources("testdata/clients.hcl").Build()
	require.False(t, diags.HasErrors(), "failed to build config: %v", diags)
	assert.Equal(t, []string{"backup", "main"}, config.ClientNames())

	main, err := config.Client("main")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6020", main.URL)
	assert.Equal(t, map[string]any{
		"username": "alice",
		"password": "s3cret",
		"roles":    []any{"reader", "writer"},
	}, main.Auth)
	assert.Equal(t, deepstream.Options{
		HeartbeatInterval:          15 * time.Second,
		ReconnectIntervalIncrement: 2 * time.Second,
		MaxReconnectInterval:       time.Minute,
		MaxReconnectAttempts:       10,
		RPCResponseTimeout:         20 * time.Second,
		MaxMessageSize:             65536,
	}, main.Options)
	assert.Equal(t, map[string]string{"X-Client": "deepstream-cli"}, main.Headers)
	assert.Equal(t, rate.Limit(50), main.RateLimit)
	assert.Equal(t, 5, main.RateBurst)

	backup, err := config.Client("backup")
	require.NoError(t, err)
	assert.Nil(t, backup.Auth)
	assert.Equal(t, "/ds", backup.Options.Path)
	assert.Equal(t, rate.Inf, backup.RateLimit)

	_, err = config.Client("")
	assert.Error(t, err, "two clients need a name")
	_, err = config.Client("missing")
	assert.Error(t, err)

	t.Run("client builder", func(t *testing.T) {
		builder, err := main.NewClientBuilder(zaptest.NewLogger(t))
		require.NoError(t, err)
		c, err := builder.Build()
		require.NoError(t, err)
		assert.Equal(t, 15*time.Second, c.Services().Options.HeartbeatInterval)
		assert.Equal(t, deepstream.StateClosed, c.State())
	})
}

func TestBuildFromDirectory(t *testing.T) {
	t.Setenv("DEEPSTREAM_TEST_PASSWORD", "s3cret")
	config, diags := NewConfig().WithSources("testdata").Build()
	require.False(t, diags.HasErrors(), "failed to build config: %v", diags)
	assert.Len(t, config.Clients, 2)
}

func TestBuildFromBytes(t *testing.T) {
	config, diags := NewConfig().WithSources([]byte(`
client "only" {
  url = "ws://localhost:6020/deepstream"
  dial_timeout = "PT45S"
  authorization = "Bearer abc"
}
`)).Build()
	require.False(t, diags.HasErrors(), "failed to build config: %v", diags)

	only, err := config.Client("")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", only.Authorization)
	assert.Equal(t, 45*time.Second, only.Options.DialTimeout)

	dialer, err := only.Dialer(nil)
	require.NoError(t, err)
	assert.NotNil(t, dialer)
}

func TestZeroReconnectAttempts(t *testing.T) {
	config, diags := NewConfig().WithSources([]byte(`
client "once" {
  url = "localhost"
  max_reconnect_attempts = 0
}
`)).Build()
	require.False(t, diags.HasErrors(), "failed to build config: %v", diags)

	once, err := config.Client("once")
	require.NoError(t, err)
	assert.Equal(t, deepstream.NoReconnect, once.Options.MaxReconnectAttempts)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		source any
	}{
		{"missing file", "testdata/nope.hcl"},
		{"bad source type", 42},
		{"syntax error", []byte(`client "x" {`)},
		{"unknown block", []byte(`server "x" {}`)},
		{"missing url", []byte(`client "x" {}`)},
		{"unknown attribute", []byte(`client "x" {
  url = "localhost"
  colour = "blue"
}`)},
		{"bad duration", []byte(`client "x" {
  url = "localhost"
  heartbeat_interval = "soon"
}`)},
		{"negative attempts", []byte(`client "x" {
  url = "localhost"
  max_reconnect_attempts = -2
}`)},
		{"duplicate client", []byte(`
client "x" { url = "a" }
client "x" { url = "b" }
`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, diags := NewConfig().WithSources(tt.source).Build()
			assert.True(t, diags.HasErrors())
			assert.Nil(t, config)
		})
	}
}

func TestFunctions(t *testing.T) {
	t.Run("user and library functions", func(t *testing.T) {
		config, diags := NewConfig().WithSources([]byte(`
function "basic" {
  params = [user, password]
  result = format("Basic %s", base64encode("${user}:${password}"))
}

client "f" {
  url           = lower("LOCALHOST:6020")
  authorization = basic("alice", "pw")
  auth          = { token = upper("abc") }
}
`)).Build()
		require.False(t, diags.HasErrors(), "failed to build config: %v", diags)

		f, err := config.Client("f")
		require.NoError(t, err)
		assert.Equal(t, "localhost:6020", f.URL)
		assert.Equal(t, "Basic YWxpY2U6cHc=", f.Authorization)
		assert.Equal(t, map[string]any{"token": "ABC"}, f.Auth)
		assert.Contains(t, config.Functions, "basic")
	})

	t.Run("built in functions are reserved", func(t *testing.T) {
		config, diags := NewConfig().WithSources([]byte(`
function "upper" {
  params = [s]
  result = s
}
`)).Build()
		assert.True(t, diags.HasErrors())
		assert.Nil(t, config)
	})
}
