package observ

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are created lazily on first use so call sites stay as simple as
// IncCounter(name, labels). A metric's label key set is fixed by its first
// call; later calls must use the same keys.
type registry struct {
	mu       sync.Mutex
	prom     *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	hist     map[string]*prometheus.HistogramVec
}

var reg = &registry{
	prom:     prometheus.NewRegistry(),
	counters: map[string]*prometheus.CounterVec{},
	gauges:   map[string]*prometheus.GaugeVec{},
	hist:     map[string]*prometheus.HistogramVec{},
}

func labelNames(lbl map[string]string) []string {
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	c, ok := reg.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		reg.prom.MustRegister(c)
		reg.counters[name] = c
	}
	reg.mu.Unlock()
	if m, err := c.GetMetricWith(prometheus.Labels(labels)); err == nil {
		m.Add(value)
	}
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	g, ok := reg.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		reg.prom.MustRegister(g)
		reg.gauges[name] = g
	}
	reg.mu.Unlock()
	if m, err := g.GetMetricWith(prometheus.Labels(labels)); err == nil {
		m.Set(value)
	}
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	h, ok := reg.hist[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		reg.prom.MustRegister(h)
		reg.hist[name] = h
	}
	reg.mu.Unlock()
	if m, err := h.GetMetricWith(prometheus.Labels(labels)); err == nil {
		m.Observe(value)
	}
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{})
}
