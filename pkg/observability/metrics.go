package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Context provider metrics
	ContextLoadsTotal   *prometheus.CounterVec
	ContextLoadDuration prometheus.Histogram
	SessionsActive      prometheus.Gauge

	// Activity log metrics
	ActivityWritesTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicauth_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"resource", "action", "outcome"},
		),
		ContextLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicauth_context_loads_total",
				Help: "Total number of authorization context loads by resulting state",
			},
			[]string{"state"},
		),
		ContextLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clinicauth_context_load_duration_seconds",
				Help:    "Authorization context load duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clinicauth_sessions_active",
				Help: "Number of sessions held by the session registry",
			},
		),
		ActivityWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicauth_activity_writes_total",
				Help: "Total number of activity log writes",
			},
			[]string{"status"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicauth_notifications_total",
				Help: "Total number of denial notifications delivered",
			},
			[]string{"sink", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicauth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinicauth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.AuthzDecisionsTotal,
		m.ContextLoadsTotal,
		m.ContextLoadDuration,
		m.SessionsActive,
		m.ActivityWritesTotal,
		m.NotificationsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordDecision counts one evaluator decision
func (m *Metrics) RecordDecision(resource, action string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.AuthzDecisionsTotal.WithLabelValues(resource, action, outcome).Inc()
}

// RecordContextLoad counts a finished context load and its duration
func (m *Metrics) RecordContextLoad(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.ContextLoadsTotal.WithLabelValues(state).Inc()
	m.ContextLoadDuration.Observe(d.Seconds())
}

// RecordActivityWrite counts an activity log write by outcome
func (m *Metrics) RecordActivityWrite(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ActivityWritesTotal.WithLabelValues(status).Inc()
}

// RecordNotification counts a notification delivery attempt for one sink
func (m *Metrics) RecordNotification(sink string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.NotificationsTotal.WithLabelValues(sink, status).Inc()
}

// SetSessionsActive sets the session gauge
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality label, e.g. the mux route template.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for a registry
func MetricsHandler(registry prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
