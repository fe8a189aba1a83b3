// Package metrics provides Prometheus metrics for the Filebox server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filebox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filebox_content_bytes_downloaded_total",
			Help: "Total bytes served from file endpoints",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filebox_content_bytes_uploaded_total",
			Help: "Total bytes written by upload and save endpoints",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_content_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"status"},
	)

	contentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_content_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	// Preview metrics
	previewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_previews_total",
			Help: "Preview generation attempts by kind and outcome",
		},
		[]string{"kind", "result"},
	)

	previewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filebox_preview_duration_seconds",
			Help:    "Preview generation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	previewMirrorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_preview_mirror_failures_total",
			Help: "Preview tree operations that failed to follow their source entry",
		},
		[]string{"operation"},
	)

	// Note store metrics
	noteMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_note_mutations_total",
			Help: "Code block mutations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filebox_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebox_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordContentDownload records a file download.
func RecordContentDownload(bytes int64, success bool) {
	contentBytesDownloaded.Add(float64(bytes))
	contentDownloadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordContentUpload records a file upload or save.
func RecordContentUpload(bytes int64, success bool) {
	contentBytesUploaded.Add(float64(bytes))
	contentUploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordPreview records a preview generation attempt. result is one of
// "generated", "skipped" or "failed".
func RecordPreview(kind, result string, duration time.Duration) {
	previewsTotal.WithLabelValues(kind, result).Inc()
	if result != "skipped" {
		previewDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordPreviewMirrorFailure records a preview rename/move/delete that did
// not follow its source entry.
func RecordPreviewMirrorFailure(operation string) {
	previewMirrorFailures.WithLabelValues(operation).Inc()
}

// RecordNoteMutation records a code block mutation.
func RecordNoteMutation(operation string, success bool) {
	noteMutationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Instrument wraps a single route handler so requests are labelled by the
// route pattern rather than the raw URL path.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
