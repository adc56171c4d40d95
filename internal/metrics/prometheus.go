package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusBridge mirrors a Metrics snapshot into a prometheus.Registry,
// registering a Gauge per metric name the first time it's seen. Unlike the
// teacher's fixed collector set, the set of metrics a server exposes here
// is whatever the caller's GetMetrics() returns, so gauges are registered
// dynamically rather than declared up front.
type PrometheusBridge struct {
	registry *prometheus.Registry

	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

// NewPrometheusBridge creates a bridge with its own registry, pre-populated
// with the standard Go runtime and process collectors.
func NewPrometheusBridge() *PrometheusBridge {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &PrometheusBridge{registry: registry, gauges: make(map[string]prometheus.Gauge)}
}

// Update sets every gauge named in snapshot, registering any name not seen
// before. Names are normalized the same way RenderExpositionText normalizes
// them, so the two exposition paths never disagree about a metric's name.
func (b *PrometheusBridge) Update(snapshot map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for raw, v := range snapshot {
		if isNonFinite(v) {
			continue
		}
		name := NormalizeName(raw)
		g, ok := b.gauges[name]
		if !ok {
			g = prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: "dynamically registered metric " + name})
			b.registry.MustRegister(g)
			b.gauges[name] = g
		}
		g.Set(v)
	}
}

// Handler returns an HTTP handler serving the registry's current state for
// GET /metrics/prom.
func (b *PrometheusBridge) Handler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests or custom collectors.
func (b *PrometheusBridge) Registry() *prometheus.Registry {
	return b.registry
}
