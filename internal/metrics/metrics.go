// Package metrics exposes Prometheus metrics for configuration loading, the
// startup script run and the introspection API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugenenazirov/peerconf/internal/scripts"
)

const namespace = "peerconf"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry        *prometheus.Registry
	configSources   prometheus.Gauge
	settingsDefined prometheus.Gauge
	scriptRuns      *prometheus.CounterVec
	scriptDuration  *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
}

// New registers all collectors, including the Go runtime and process ones.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		configSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_sources",
			Help:      "Number of configuration sources in the resolution chain.",
		}),
		settingsDefined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_defined",
			Help:      "Number of distinct settings defined across all sources.",
		}),
		scriptRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startup_scripts_total",
			Help:      "Startup scripts that reached a terminal state, by state.",
		}, []string{"state"}),
		scriptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_script_duration_seconds",
			Help:      "Time spent running each startup script.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"script"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, path and status code.",
		}, []string{"method", "path", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.configSources,
		m.settingsDefined,
		m.scriptRuns,
		m.scriptDuration,
		m.httpRequests,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveChain records the shape of a freshly loaded resolution chain.
func (m *Metrics) ObserveChain(sources, settings int) {
	m.configSources.Set(float64(sources))
	m.settingsDefined.Set(float64(settings))
}

// ScriptFinished implements scripts.Observer.
func (m *Metrics) ScriptFinished(name string, state scripts.State, elapsed time.Duration) {
	m.scriptRuns.WithLabelValues(string(state)).Inc()
	m.scriptDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveRequest counts one served HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

var _ scripts.Observer = (*Metrics)(nil)
