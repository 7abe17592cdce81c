// Package metrics exposes the hub's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conduit"

type Metrics struct {
	Published        prometheus.Counter
	Delivered        *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	Subscribers      prometheus.Gauge

	retained atomic.Pointer[func() float64]
	reg      *prometheus.Registry
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Envelopes appended to the broadcast queue.",
		}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "Envelopes acknowledged by a sink.",
		}, []string{"sink"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed sink sends; each is retried from the outbox.",
		}, []string{"sink"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Open hub feeds.",
		}),
		reg: prometheus.NewRegistry(),
	}
	retained := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retained_nodes",
		Help:      "Queue nodes still referenced by the tail or a subscriber cursor.",
	}, func() float64 {
		if fn := m.retained.Load(); fn != nil {
			return (*fn)()
		}
		return 0
	})
	m.reg.MustRegister(m.Published, m.Delivered, m.DeliveryFailures, m.Subscribers, retained)
	return m
}

// WatchRetained sets fn as the source of the retained_nodes gauge,
// replacing any earlier source.
func (m *Metrics) WatchRetained(fn func() float64) {
	m.retained.Store(&fn)
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
