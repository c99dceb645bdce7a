package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"permgate/internal/domain"
)

const metricsNamespace = "permgate"

// Metrics is the gateway's Prometheus metric set. Each server owns its own
// registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	clients        prometheus.Gauge
	rpcTotal       *prometheus.CounterVec
	framesDropped  prometheus.Counter
	updatesTotal   *prometheus.CounterVec
	sweepsTotal    prometheus.Counter
	featuresLoaded prometheus.Counter
}

// NewMetrics creates and registers the gateway metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "clients",
			Help:      "Number of connected gateway clients",
		}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "rpc_total",
			Help:      "RPC calls handled by the gateway",
		}, []string{"method", "code"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a client queue was full",
		}),
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "permission",
			Name:      "updates_total",
			Help:      "Permission cache transitions broadcast on the bus",
		}, []string{"permission", "value"}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "permission",
			Name:      "sweeps_total",
			Help:      "Completed full permission sweeps",
		}),
		featuresLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "permission",
			Name:      "features_loaded_total",
			Help:      "Features registered with the coordinator",
		}),
	}
	m.registry.MustRegister(
		m.clients, m.rpcTotal, m.framesDropped,
		m.updatesTotal, m.sweepsTotal, m.featuresLoaded,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) rpc(method string, err error) {
	code := "OK"
	if err != nil {
		code = string(domain.ErrorCodeOf(err))
	}
	m.rpcTotal.WithLabelValues(method, code).Inc()
}

func (m *Metrics) observe(event domain.Event) {
	switch event.Type {
	case domain.EventPermissionUpdate:
		var u domain.PermissionUpdate
		if err := json.Unmarshal(event.Payload, &u); err != nil {
			return
		}
		m.updatesTotal.WithLabelValues(string(u.Permission), strconv.FormatBool(u.Value)).Inc()
	case domain.EventSweepCompleted:
		m.sweepsTotal.Inc()
	case domain.EventFeatureLoaded:
		m.featuresLoaded.Inc()
	}
}
