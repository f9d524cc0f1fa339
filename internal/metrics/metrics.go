// Package metrics exposes storygate's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/catalog"
)

const namespace = "storygate"

// Metrics holds one registry and its collectors. It implements
// access.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	decisions *prometheus.CounterVec
	failures  *prometheus.CounterVec
	grants    *prometheus.CounterVec
	generated *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "access",
				Name:      "decisions_total",
				Help:      "Access decisions by outcome and unlock method.",
			},
			[]string{"outcome", "method"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "access",
				Name:      "failures_total",
				Help:      "Collaborator failures by kind.",
			},
			[]string{"kind"},
		),
		grants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "access",
				Name:      "ad_grants_total",
				Help:      "Rewarded ad flows by result.",
			},
			[]string{"result"},
		),
		generated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "stories_generated_total",
				Help:      "Stories written by the daily generator.",
			},
			[]string{"result"},
		),

		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	m.Registry.MustRegister(
		m.decisions,
		m.failures,
		m.grants,
		m.generated,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveDecision implements access.Observer.
func (m *Metrics) ObserveDecision(d access.Decision) {
	method := string(d.Method)
	if method == "" {
		method = "none"
	}
	m.decisions.WithLabelValues(d.Outcome.String(), method).Inc()
}

// ObserveFailure implements access.Observer.
func (m *Metrics) ObserveFailure(kind access.Kind) {
	m.failures.WithLabelValues(string(kind)).Inc()
}

// ObserveGrant implements access.Observer.
func (m *Metrics) ObserveGrant(earned bool) {
	result := "declined"
	if earned {
		result = "earned"
	}
	m.grants.WithLabelValues(result).Inc()
}

// ObserveGeneration records a generator run.
func (m *Metrics) ObserveGeneration(r catalog.Result) {
	m.generated.WithLabelValues("inserted").Add(float64(r.Inserted))
	m.generated.WithLabelValues("skipped").Add(float64(r.Total - r.Inserted))
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP metrics collection. Install it with
// Router.Use so paths are labelled with the matched route template.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routePath(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
