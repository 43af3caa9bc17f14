package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/deepstream/pkg/deepstream/client"
	"github.com/tsarna/deepstream/pkg/deepstream/config"
	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
	"github.com/tsarna/deepstream/pkg/deepstream/otel"
	"github.com/tsarna/deepstream/pkg/deepstream/prom"
)

const closeTimeout = 5 * time.Second

func setupLogger() (*zap.Logger, error) {
	level := logLevel
	if debug || (verbose && level == "info") {
		level = "debug"
	}

	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	cfg.Development = debug
	return cfg.Build()
}

// splitURL separates the server URL from the remaining arguments. With
// --config there is no URL argument.
func splitURL(args []string, rest int) (string, []string, error) {
	if len(configPaths) > 0 {
		if len(args) < rest {
			return "", nil, fmt.Errorf("expected at least %d arguments, got %d", rest, len(args))
		}
		return "", args, nil
	}
	if len(args) < rest+1 {
		return "", nil, fmt.Errorf("expected a server URL and at least %d more arguments, got %d", rest, len(args))
	}
	return args[0], args[1:], nil
}

// parseData reads a command line payload as JSON, falling back to the
// plain string.
func parseData(s string) any {
	var data any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return s
	}
	return data
}

// session is a connected, logged in client.
type session struct {
	client  *client.Client
	logger  *zap.Logger
	server  *http.Server
	metrics *o11y.StandaloneMetricsProvider
}

// connect builds a client from --config or url, connects and logs in.
func connect(ctx context.Context, logger *zap.Logger, url string) (*session, error) {
	var (
		builder *client.ClientBuilder
		auth    any
	)
	if len(configPaths) > 0 {
		sources := make([]any, len(configPaths))
		for i, p := range configPaths {
			sources[i] = p
		}
		cfg, diags := config.NewConfig().WithLogger(logger).WithSources(sources...).Build()
		if diags.HasErrors() {
			return nil, diags
		}
		cc, err := cfg.Client(clientName)
		if err != nil {
			return nil, err
		}
		if builder, err = cc.NewClientBuilder(logger); err != nil {
			return nil, err
		}
		auth = cc.Auth
	} else {
		builder = client.NewClient().WithURL(url).WithLogger(logger)
	}

	if authJSON != "" {
		if err := json.Unmarshal([]byte(authJSON), &auth); err != nil {
			return nil, fmt.Errorf("invalid --auth JSON: %w", err)
		}
	}

	s := &session{logger: logger}
	var (
		standalone *o11y.StandaloneMetricsProvider
		scraped    *prom.Provider
	)
	publisher := &emitPublisher{}
	switch {
	case metricsListen != "" && metricsEvent != "":
		return nil, fmt.Errorf("--metrics-listen and --metrics-event are mutually exclusive")
	case metricsEvent != "":
		standalone = o11y.NewStandaloneMetricsProvider(publisher, &o11y.StandaloneMetricsConfig{
			Interval:   metricsInterval,
			EventName:  metricsEvent,
			ClientName: reportedName(),
		})
		builder = builder.WithMetrics(standalone)
	case metricsListen != "":
		scraped = prom.NewProvider(logger.Named("metrics"))
		builder = builder.WithMetrics(scraped)
	}
	if tracing {
		builder = builder.WithTracing(otel.NewProvider("deepstream-cli", Version))
	}

	c, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.client = c
	publisher.client = c
	if scraped != nil {
		s.serveMetrics(scraped)
	}

	if err := c.Connect(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := c.Login(ctx, auth); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	logger.Info("Logged in", zap.Stringer("state", c.State()))

	if standalone != nil {
		if err := standalone.Start(); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to start metrics: %w", err)
		}
		s.metrics = standalone
		logger.Info("Publishing metrics", zap.String("event", metricsEvent))
	}
	return s, nil
}

// reportedName names the client in metrics snapshots.
func reportedName() string {
	if clientName != "" {
		return clientName
	}
	return "deepstream-cli"
}

// emitPublisher ships metrics snapshots as deepstream events.
type emitPublisher struct {
	client *client.Client
}

func (p *emitPublisher) Publish(_ context.Context, name string, data any) error {
	return p.client.Event().Emit(name, data)
}

func (s *session) serveMetrics(provider *prom.Provider) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.Handler())
	s.server = &http.Server{Addr: metricsListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	s.logger.Info("Serving metrics", zap.String("addr", metricsListen))
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if s.metrics != nil {
		s.metrics.Stop()
	}
	if err := s.client.Close(ctx); err != nil {
		s.logger.Warn("Error during client close", zap.Error(err))
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("Error stopping metrics server", zap.Error(err))
		}
	}
}

// waitForSignal blocks until SIGINT, SIGTERM or ctx is done.
func waitForSignal(ctx context.Context, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Debug("Signal received, exiting", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
}
