package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// StandaloneMetricsConfig configures the standalone metrics provider.
type StandaloneMetricsConfig struct {
	Interval   time.Duration // default 30s
	EventName  string        // default "$metrics"
	ClientName string        // reported in every snapshot
	Clock      clock.Clock
}

// Series is one metric for one label set. For histograms Value is the sum
// of the observations.
type Series struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Count  int64             `json:"count,omitempty"`
	Max    float64           `json:"max,omitempty"`
}

// MetricsSnapshot is the payload published on every interval. Series are
// sorted by name, then labels.
type MetricsSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Client     string    `json:"client"`
	Counters   []Series  `json:"counters"`
	Gauges     []Series  `json:"gauges"`
	Histograms []Series  `json:"histograms"`
}

// Find returns the series called name whose labels include every given
// label, e.g. Find(s.Counters, "deepstream.messages.sent", Label{"topic", "EVENT"}).
func Find(series []Series, name string, labels ...Label) (Series, bool) {
	for _, s := range series {
		if s.Name != name {
			continue
		}
		match := true
		for _, l := range labels {
			if s.Labels[l.Key] != l.Value {
				match = false
				break
			}
		}
		if match {
			return s, true
		}
	}
	return Series{}, false
}

type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

// StandaloneMetricsProvider keeps every series in memory and publishes a
// snapshot periodically, so a client without a metrics backend can report
// through deepstream itself. Series are kept per label set, which for the
// client means per topic.
type StandaloneMetricsProvider struct {
	config    StandaloneMetricsConfig
	publisher MetricsPublisher

	mu     sync.Mutex
	series map[string]*Series
	kinds  map[string]kind

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// NewStandaloneMetricsProvider creates a provider that publishes through
// publisher once started.
func NewStandaloneMetricsProvider(publisher MetricsPublisher, config *StandaloneMetricsConfig) *StandaloneMetricsProvider {
	cfg := StandaloneMetricsConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.EventName == "" {
		cfg.EventName = "$metrics"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &StandaloneMetricsProvider{
		config:    cfg,
		publisher: publisher,
		series:    make(map[string]*Series),
		kinds:     make(map[string]kind),
	}
}

// Start begins publishing every Interval. Starting twice is a no-op.
func (s *StandaloneMetricsProvider) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.publishLoop(s.config.Clock.Ticker(s.config.Interval), s.stop, s.done)
	return nil
}

// Stop publishes a final snapshot and waits for the publishing goroutine.
func (s *StandaloneMetricsProvider) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	return nil
}

func (s *StandaloneMetricsProvider) publishLoop(ticker *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Publish()
		case <-stop:
			s.Publish()
			return
		}
	}
}

// Publish sends the current snapshot to the publisher.
func (s *StandaloneMetricsProvider) Publish() {
	_ = s.publisher.Publish(context.Background(), s.config.EventName, s.Snapshot())
}

// Snapshot copies the current value of every series.
func (s *StandaloneMetricsProvider) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Timestamp: s.config.Clock.Now(),
		Client:    s.config.ClientName,
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.series))
	for key := range s.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		series := *s.series[key]
		switch s.kinds[key] {
		case kindCounter:
			snapshot.Counters = append(snapshot.Counters, series)
		case kindGauge:
			snapshot.Gauges = append(snapshot.Gauges, series)
		case kindHistogram:
			snapshot.Histograms = append(snapshot.Histograms, series)
		}
	}
	s.mu.Unlock()

	return snapshot
}

// update applies fn to the series for name and labels, creating it first.
func (s *StandaloneMetricsProvider) update(k kind, name string, labels []Label, fn func(*Series)) {
	key := seriesKey(name, labels)

	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[key]
	if !ok {
		series = &Series{Name: name}
		if len(labels) > 0 {
			series.Labels = make(map[string]string, len(labels))
			for _, l := range labels {
				series.Labels[l.Key] = l.Value
			}
		}
		s.series[key] = series
		s.kinds[key] = k
	}
	fn(series)
}

// seriesKey sorts labels so the same set always maps to the same series.
func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, len(labels))
	for i, l := range labels {
		pairs[i] = l.Key + "=" + l.Value
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func (s *StandaloneMetricsProvider) Counter(name string) Counter {
	return standaloneCounter{s, name}
}

func (s *StandaloneMetricsProvider) Histogram(name string) Histogram {
	return standaloneHistogram{s, name}
}

func (s *StandaloneMetricsProvider) Gauge(name string) Gauge {
	return standaloneGauge{s, name}
}

type standaloneCounter struct {
	provider *StandaloneMetricsProvider
	name     string
}

func (c standaloneCounter) Add(_ context.Context, value int64, labels ...Label) {
	c.provider.update(kindCounter, c.name, labels, func(s *Series) {
		s.Value += float64(value)
	})
}

type standaloneHistogram struct {
	provider *StandaloneMetricsProvider
	name     string
}

func (h standaloneHistogram) Record(_ context.Context, value float64, labels ...Label) {
	h.provider.update(kindHistogram, h.name, labels, func(s *Series) {
		if s.Count == 0 || value > s.Max {
			s.Max = value
		}
		s.Count++
		s.Value += value
	})
}

type standaloneGauge struct {
	provider *StandaloneMetricsProvider
	name     string
}

func (g standaloneGauge) Set(_ context.Context, value float64, labels ...Label) {
	g.provider.update(kindGauge, g.name, labels, func(s *Series) {
		s.Value = value
	})
}
