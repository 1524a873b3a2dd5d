package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Workflow metrics
var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysaccess_decisions_total",
			Help: "Stage decisions by stage, kind and result.",
		},
		[]string{"stage", "kind", "result"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysaccess_notifications_total",
			Help: "Notifications by template and delivery result.",
		},
		[]string{"template", "result"},
	)

	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysaccess_audit_entries_total",
			Help: "Audit entries by write result.",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			decisionsTotal, notificationsTotal, auditEntriesTotal,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts a decision attempt. result is ok or an error code.
func ObserveDecision(stage, kind, result string) {
	decisionsTotal.WithLabelValues(stage, kind, result).Inc()
}

// ObserveNotification counts a notification delivery attempt.
func ObserveNotification(template, result string) {
	notificationsTotal.WithLabelValues(template, result).Inc()
}

// ObserveAudit counts an audit write: written, failed or dropped.
func ObserveAudit(result string) {
	auditEntriesTotal.WithLabelValues(result).Inc()
}

// Instrument measures rate, latency and concurrency of the wrapped handler.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}
	switch parts[1] {
	case "requests":
		if len(parts) == 3 {
			parts[2] = ":id"
		}
	case "entries":
		if len(parts) == 4 && (parts[3] == "decision" || parts[3] == "override" || parts[3] == "revoke") {
			parts[2] = ":id"
		}
	case "users":
		if len(parts) == 4 && parts[3] == "role" {
			parts[2] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
