package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quill"

// Relay holds the relay collectors. It satisfies core.Metrics.
type Relay struct {
	registry *prometheus.Registry

	online        prometheus.Gauge
	persisted     prometheus.Counter
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	typingDropped prometheus.Counter
	rateLimited   prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Relay {
	m := &Relay{
		registry: prometheus.NewRegistry(),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Number of identified users with a live connection.",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Direct messages written to the store.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_delivered_total",
			Help:      "Events queued to a connection.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Events dropped because the connection was closed or its buffer was full.",
		}, []string{"event"}),
		typingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_dropped_total",
			Help:      "Typing indicators dropped because the receiver was not connected.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Inbound frames rejected by the per-connection limiter.",
		}),
	}

	m.registry.MustRegister(
		m.online,
		m.persisted,
		m.delivered,
		m.dropped,
		m.typingDropped,
		m.rateLimited,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of active goroutines.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Relay) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Relay) SetOnline(n int)             { m.online.Set(float64(n)) }
func (m *Relay) MessagePersisted()           { m.persisted.Inc() }
func (m *Relay) EventDelivered(event string) { m.delivered.WithLabelValues(event).Inc() }
func (m *Relay) EventDropped(event string)   { m.dropped.WithLabelValues(event).Inc() }
func (m *Relay) TypingDropped()              { m.typingDropped.Inc() }
func (m *Relay) RateLimited()                { m.rateLimited.Inc() }
