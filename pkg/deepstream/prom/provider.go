// Package prom provides a Prometheus implementation of the client's
// metrics interfaces.
//
// Prometheus needs label names up front while o11y instruments receive
// labels per observation, so each instrument creates its vector on first
// use with the label keys it sees then. Later observations with a
// different key set are dropped and logged.
package prom

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
)

// Provider implements o11y.MetricsProvider on a Prometheus registerer.
type Provider struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counter
	histograms map[string]*histogram
	gauges     map[string]*gauge
}

// NewProvider creates a provider with its own registry.
func NewProvider(logger *zap.Logger) *Provider {
	registry := prometheus.NewRegistry()
	return NewProviderWith(registry, registry, logger)
}

// NewProviderWith creates a provider on an existing registerer, e.g.
// prometheus.DefaultRegisterer. gatherer may be nil if Handler is not used.
func NewProviderWith(registerer prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		registerer: registerer,
		gatherer:   gatherer,
		logger:     logger,
		buckets:    prometheus.DefBuckets,
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
		gauges:     make(map[string]*gauge),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Provider) Counter(name string) o11y.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[name]
	if !ok {
		c = &counter{instrument: instrument{provider: p, name: metricName(name, "_total")}}
		p.counters[name] = c
	}
	return c
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histograms[name]
	if !ok {
		h = &histogram{instrument: instrument{provider: p, name: metricName(name, "_seconds")}}
		p.histograms[name] = h
	}
	return h
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gauges[name]
	if !ok {
		g = &gauge{instrument: instrument{provider: p, name: metricName(name, "")}}
		p.gauges[name] = g
	}
	return g
}

// metricName turns a dotted name into a Prometheus name with suffix.
func metricName(name, suffix string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		}
		return '_'
	}, name)
	if suffix != "" && !strings.HasSuffix(name, suffix) {
		name += suffix
	}
	return name
}

func split(labels []o11y.Label) (keys, values []string) {
	sorted := slices.Clone(labels)
	slices.SortFunc(sorted, func(a, b o11y.Label) int { return strings.Compare(a.Key, b.Key) })
	keys = make([]string, len(sorted))
	values = make([]string, len(sorted))
	for i, l := range sorted {
		keys[i] = l.Key
		values[i] = l.Value
	}
	return keys, values
}

// instrument holds what every kind of vector shares: the label keys fixed
// on first use and the registration outcome.
type instrument struct {
	provider *Provider
	name     string

	once sync.Once
	keys []string
	err  error
}

func (i *instrument) init(keys []string, create func(keys []string) prometheus.Collector) bool {
	i.once.Do(func() {
		i.keys = keys
		i.err = i.provider.registerer.Register(create(keys))
		if i.err != nil {
			i.provider.logger.Warn("Failed to register metric", zap.String("metric", i.name), zap.Error(i.err))
		}
	})
	if i.err != nil {
		return false
	}
	if !slices.Equal(i.keys, keys) {
		i.provider.logger.Debug("Dropping observation with mismatched labels",
			zap.String("metric", i.name), zap.Strings("want", i.keys), zap.Strings("got", keys))
		return false
	}
	return true
}

func (i *instrument) help() string {
	return fmt.Sprintf("deepstream client metric %s", i.name)
}

type counter struct {
	instrument
	vec *prometheus.CounterVec
}

func (c *counter) Add(_ context.Context, value int64, labels ...o11y.Label) {
	keys, values := split(labels)
	ok := c.init(keys, func(keys []string) prometheus.Collector {
		c.vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help()}, keys)
		return c.vec
	})
	if ok {
		c.vec.WithLabelValues(values...).Add(float64(value))
	}
}

type histogram struct {
	instrument
	vec *prometheus.HistogramVec
}

func (h *histogram) Record(_ context.Context, value float64, labels ...o11y.Label) {
	keys, values := split(labels)
	ok := h.init(keys, func(keys []string) prometheus.Collector {
		h.vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    h.name,
			Help:    h.help(),
			Buckets: h.provider.buckets,
		}, keys)
		return h.vec
	})
	if ok {
		h.vec.WithLabelValues(values...).Observe(value)
	}
}

type gauge struct {
	instrument
	vec *prometheus.GaugeVec
}

func (g *gauge) Set(_ context.Context, value float64, labels ...o11y.Label) {
	keys, values := split(labels)
	ok := g.init(keys, func(keys []string) prometheus.Collector {
		g.vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: g.name, Help: g.help()}, keys)
		return g.vec
	})
	if ok {
		g.vec.WithLabelValues(values...).Set(value)
	}
}
