package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal  *prometheus.CounterVec
	uploadedFiles *prometheus.HistogramVec
	rerunsTotal   *prometheus.CounterVec
	sseClients    prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "audex",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audex",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Total batch upload requests by outcome.",
		},
		[]string{"service", "status"},
	)
	uploadedFiles := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audex",
			Subsystem: "ingest",
			Name:      "uploaded_files",
			Help:      "Distribution of files per accepted batch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)
	rerunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audex",
			Subsystem: "ai",
			Name:      "reruns_total",
			Help:      "Total AI re-analysis requests by outcome.",
		},
		[]string{"service", "status"},
	)
	sseClients := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "audex",
			Subsystem: "sse",
			Name:      "clients",
			Help:      "Number of connected progress stream subscribers.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		uploadedFiles,
		rerunsTotal,
		sseClients,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		uploadsTotal:    uploadsTotal,
		uploadedFiles:   uploadedFiles,
		rerunsTotal:     rerunsTotal,
		sseClients:      sseClients,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/batches/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/v1/batches/")
	_, suffix, found := strings.Cut(rest, "/")
	if !found {
		return "/v1/batches/{batch_id}"
	}
	return "/v1/batches/{batch_id}/" + suffix
}

func (m *HTTPServerMetrics) RecordUpload(service, status string, files int) {
	m.uploadsTotal.WithLabelValues(service, status).Inc()
	if status == "accepted" && files > 0 {
		m.uploadedFiles.WithLabelValues(service).Observe(float64(files))
	}
}

func (m *HTTPServerMetrics) RecordRerun(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.rerunsTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) SSEClientConnected()    { m.sseClients.Inc() }
func (m *HTTPServerMetrics) SSEClientDisconnected() { m.sseClients.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
