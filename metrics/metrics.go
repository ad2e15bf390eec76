package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stepstream/sink"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepstream_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency, including the full stream
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepstream_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveStreams tracks executions currently streaming
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepstream_active_streams",
			Help: "Number of executions currently streaming",
		},
	)

	// StreamDuration tracks how long executions run
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepstream_stream_duration_seconds",
			Help:    "Execution duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// FragmentsTotal counts wire fragments emitted, by event kind
	FragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepstream_fragments_total",
			Help: "Total number of wire fragments emitted",
		},
		[]string{"kind"},
	)

	// SinkEvents counts events queued into event sinks
	SinkEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepstream_sink_events_total",
			Help: "Total number of events queued into event sinks",
		},
		[]string{"kind"},
	)

	// SinkDrops counts callback payloads dropped by event sinks
	SinkDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepstream_sink_drops_total",
			Help: "Total number of callback payloads dropped",
		},
		[]string{"reason"},
	)

	// EngineFailures counts executions whose engine returned an error
	EngineFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepstream_engine_failures_total",
			Help: "Total number of failed engine executions",
		},
	)

	// ToolCalls tracks tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepstream_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming responses
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for websocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/invoke", "/ws", "/metrics", "/traces":
		return path
	default:
		if len(path) > 8 && path[:8] == "/traces/" {
			return "/traces"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStreamStart increments the active stream gauge
func RecordStreamStart() {
	ActiveStreams.Inc()
}

// RecordStreamEnd decrements the active stream gauge and records duration
func RecordStreamEnd(status string, durationSeconds float64) {
	ActiveStreams.Dec()
	StreamDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordFragment counts one emitted wire fragment
func RecordFragment(kind string) {
	FragmentsTotal.WithLabelValues(kind).Inc()
}

// RecordEngineFailure counts a failed execution
func RecordEngineFailure() {
	EngineFailures.Inc()
}

// RecordToolCall records a tool invocation
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// SinkObserver feeds event sink activity into the sink counters.
type SinkObserver struct{}

var _ sink.Observer = SinkObserver{}

func (SinkObserver) EventQueued(kind sink.Kind) {
	SinkEvents.WithLabelValues(kind.String()).Inc()
}

func (SinkObserver) PayloadDropped(reason string) {
	SinkDrops.WithLabelValues(reason).Inc()
}
