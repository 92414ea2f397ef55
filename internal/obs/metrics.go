package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by all handlers.
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

// Domain counters for the authentication surface.
var (
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	RefreshReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_total",
		Help: "Refresh tokens presented after rotation (reuse detections).",
	})

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limited_total",
			Help: "Requests rejected by the per-path rate limiter.",
		},
		[]string{"path"},
	)

	SuspiciousIPFlagsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_suspicious_ip_flags_total",
		Help: "IPs flagged suspicious by the abuse guard.",
	})

	MailOutboxSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_outbox_dispatch_total",
			Help: "Outbox dispatch attempts by result.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		LoginsTotal, RefreshReuseTotal, RateLimitedTotal,
		SuspiciousIPFlagsTotal, MailOutboxSentTotal,
	)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses per-entity path segments so metric labels stay
// bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if i > 1 && (parts[i-1] == "orgs" || parts[i-1] == "suspicious-ips") && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// Instrument wraps next with request count, latency, and in-flight tracking.
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

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
