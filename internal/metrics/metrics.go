// Package metrics holds the Prometheus collectors shared by the bus, the
// assignment protocol and the HTTP layer.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "challengezone",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events published on tab buses",
		},
		[]string{"type"},
	)

	HandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "challengezone",
			Subsystem: "bus",
			Name:      "handler_panics_total",
			Help:      "Subscriber panics recovered during publish",
		},
		[]string{"type"},
	)

	AssignmentReplacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "challengezone",
			Subsystem: "assignment",
			Name:      "replacements_total",
			Help:      "Membership replacement attempts by outcome",
		},
		[]string{"outcome"},
	)

	OpenTabs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "challengezone",
			Subsystem: "tab",
			Name:      "open",
			Help:      "Live tab runtimes",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "challengezone",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "challengezone",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsPublished,
		HandlerPanics,
		AssignmentReplacements,
		OpenTabs,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// Middleware instruments requests, labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		path := RoutePattern(r)
		status := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

// RoutePattern returns the chi route pattern if available, otherwise the
// URL path. Keeps label cardinality bounded.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
