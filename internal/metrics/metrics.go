// Package metrics exposes Prometheus collectors for the photo stream client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostream_events_total",
			Help: "Realtime events received, by event name",
		},
		[]string{"event"},
	)

	decodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostream_decode_errors_total",
			Help: "Realtime event payloads that failed to decode",
		},
		[]string{"event"},
	)

	imageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photostream_image_fetch_seconds",
			Help:    "Image fetch duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	imageFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostream_image_fetches_total",
			Help: "Image fetches, by outcome",
		},
		[]string{"outcome"},
	)

	cacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostream_cache_writes_total",
			Help: "Image cache writes, by outcome",
		},
		[]string{"outcome"},
	)

	connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photostream_connected",
			Help: "1 while the realtime channel is connected",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostream_http_requests_total",
			Help: "Status API requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Fetch outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

func EventReceived(event string) { eventsTotal.WithLabelValues(event).Inc() }

func DecodeFailed(event string) { decodeErrorsTotal.WithLabelValues(event).Inc() }

// ImageFetched records one completed fetch.
func ImageFetched(outcome string, d time.Duration) {
	imageFetchesTotal.WithLabelValues(outcome).Inc()
	imageFetchDuration.Observe(d.Seconds())
}

func CacheWrite(err error) {
	if err != nil {
		cacheWritesTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	cacheWritesTotal.WithLabelValues(OutcomeOK).Inc()
}

func SetConnected(ok bool) {
	if ok {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}
