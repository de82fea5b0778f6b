package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. All methods are nil-safe
// so components can be built without metrics in tests.
type Metrics struct {
	Registry *prometheus.Registry

	FindingsIngested    *prometheus.CounterVec
	IngestRejected      *prometheus.CounterVec
	PublishErrors       prometheus.Counter
	FeedDiscarded       prometheus.Counter
	FeedTransportErrors prometheus.Counter
	FeedActive          prometheus.Gauge
	StreamClients       prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers every collector under namespace, plus the Go and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		FindingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "findings_ingested_total", Help: "Findings accepted on the ingestion path.",
		}, []string{"severity"}),
		IngestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_rejected_total", Help: "Ingestion requests rejected, by reason.",
		}, []string{"reason"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_publish_errors_total", Help: "Stored findings that could not be published to the stream.",
		}),
		FeedDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_discarded_total", Help: "Malformed stream messages discarded by feed aggregators.",
		}),
		FeedTransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_transport_errors_total", Help: "Feed subscriptions ended by a transport failure.",
		}),
		FeedActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_active_subscriptions", Help: "Feed aggregators currently subscribed.",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sse_clients", Help: "Connected live feed clients.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration seconds by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FindingsIngested,
		m.IngestRejected,
		m.PublishErrors,
		m.FeedDiscarded,
		m.FeedTransportErrors,
		m.FeedActive,
		m.StreamClients,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Ingested(severity string) {
	if m != nil {
		m.FindingsIngested.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.IngestRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.PublishErrors.Inc()
	}
}

func (m *Metrics) Discarded() {
	if m != nil {
		m.FeedDiscarded.Inc()
	}
}

func (m *Metrics) TransportFailed() {
	if m != nil {
		m.FeedTransportErrors.Inc()
	}
}

func (m *Metrics) SubscriptionStarted() {
	if m != nil {
		m.FeedActive.Inc()
	}
}

func (m *Metrics) SubscriptionEnded() {
	if m != nil {
		m.FeedActive.Dec()
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.StreamClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.StreamClients.Dec()
	}
}

// statusRecorder wraps ResponseWriter to capture the final status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status and forwards the call.
func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming handlers keep working.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// Middleware records request count and latency per normalized path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		p := NormalizePath(r.URL.Path)
		m.HTTPRequests.WithLabelValues(r.Method, p, strconv.Itoa(sr.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, p).Observe(time.Since(start).Seconds())
	})
}

// NormalizePath replaces path segments that look like IDs (hex, UUID-like, digits) with :id
// to keep label cardinality bounded.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if s != "" && looksLikeID(s) {
			segs[i] = ":id"
		}
	}
	np := strings.Join(segs, "/")
	if !strings.HasPrefix(np, "/") {
		np = "/" + np
	}
	return np
}

func looksLikeID(s string) bool {
	if len(s) >= 8 {
		hex := true
		for i := 0; i < len(s); i++ {
			c := s[i]
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '-') {
				hex = false
				break
			}
		}
		if hex {
			return true
		}
	}
	digits := true
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			digits = false
			break
		}
	}
	return digits && len(s) > 3
}
