package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for the simulation store and its
// render boundary. It satisfies simengine.MetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TickDuration       prometheus.Histogram
	TicksTotal         prometheus.Counter
	Entities           *prometheus.GaugeVec
	Cables             prometheus.Gauge
	CableFetchFailures prometheus.Counter
	Paused             prometheus.Gauge
	WSClients          prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "noc_tick_duration_seconds",
		Help:    "Wall time spent applying one simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "noc_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noc_ticks_total",
		Help: "Total number of applied simulation ticks.",
	}), "noc_ticks_total")
	if err != nil {
		return nil, err
	}
	entities, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "noc_entities",
		Help: "Current number of simulated entities, labeled by kind.",
	}, []string{"kind"}), "noc_entities")
	if err != nil {
		return nil, err
	}
	cables, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "noc_cables",
		Help: "Number of cable features currently loaded.",
	}), "noc_cables")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noc_cable_fetch_failures_total",
		Help: "Total number of failed cable geometry fetches.",
	}), "noc_cable_fetch_failures_total")
	if err != nil {
		return nil, err
	}
	paused, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "noc_paused",
		Help: "1 while the simulation is paused.",
	}), "noc_paused")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "noc_ws_clients",
		Help: "Number of connected websocket clients.",
	}), "noc_ws_clients")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:           gatherer,
		TickDuration:       tickDuration,
		TicksTotal:         ticks,
		Entities:           entities,
		Cables:             cables,
		CableFetchFailures: failures,
		Paused:             paused,
		WSClients:          clients,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(d.Seconds())
}

func (c *SimCollector) SetEntityCounts(hubs, links, kpis, events int) {
	if c == nil {
		return
	}
	c.Entities.WithLabelValues("hubs").Set(float64(hubs))
	c.Entities.WithLabelValues("links").Set(float64(links))
	c.Entities.WithLabelValues("kpis").Set(float64(kpis))
	c.Entities.WithLabelValues("events").Set(float64(events))
}

func (c *SimCollector) SetCableCount(n int) {
	if c == nil {
		return
	}
	c.Cables.Set(float64(n))
}

func (c *SimCollector) IncCableFetchFailures() {
	if c == nil {
		return
	}
	c.CableFetchFailures.Inc()
}

func (c *SimCollector) SetPaused(paused bool) {
	if c == nil {
		return
	}
	if paused {
		c.Paused.Set(1)
	} else {
		c.Paused.Set(0)
	}
}

// SetClients records the number of connected websocket clients.
func (c *SimCollector) SetClients(n int) {
	if c == nil {
		return
	}
	c.WSClients.Set(float64(n))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
