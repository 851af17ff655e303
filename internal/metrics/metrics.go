// Package metrics defines the Prometheus instrumentation for the tracking
// service and the HTTP middleware that feeds the request metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitwatch_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	datasetRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_element_dataset_records",
		Help: "Number of element records in the current dataset.",
	})

	datasetAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_element_dataset_age_seconds",
		Help: "Age of the current element dataset in seconds.",
	})

	tickDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitwatch_tick_duration_seconds",
		Help:    "Duration of one full position/visibility tick.",
		Buckets: prometheus.DefBuckets,
	})

	propagationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_propagation_failures_total",
		Help: "Satellites dropped from a tick due to propagation failure.",
	})

	retiredObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_retired_objects",
		Help: "Objects marked non-renderable after a propagation failure.",
	})

	visibleObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_visible_objects",
		Help: "Objects above the observer's horizon at the last tick.",
	})

	pathCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_path_cache_hits_total",
		Help: "Orbit path cache hits.",
	})

	pathCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_path_cache_misses_total",
		Help: "Orbit path cache misses.",
	})

	catalogFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_catalog_fetches_total",
			Help: "External catalog lookups by outcome.",
		},
		[]string{"outcome"},
	)

	elementFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_element_fetches_total",
			Help: "Element set downloads and parses by outcome.",
		},
		[]string{"outcome"},
	)

	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_ws_clients",
		Help: "Connected WebSocket stream clients.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		datasetRecords,
		datasetAgeSeconds,
		tickDurationSeconds,
		propagationFailuresTotal,
		retiredObjects,
		visibleObjects,
		pathCacheHitsTotal,
		pathCacheMissesTotal,
		catalogFetchesTotal,
		elementFetchesTotal,
		wsClients,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetDatasetRecords(n int)       { datasetRecords.Set(float64(n)) }
func SetDatasetAge(seconds float64) { datasetAgeSeconds.Set(seconds) }

func ObserveTickDuration(d time.Duration) { tickDurationSeconds.Observe(d.Seconds()) }
func AddPropagationFailures(n int)        { propagationFailuresTotal.Add(float64(n)) }
func SetRetiredObjects(n int)             { retiredObjects.Set(float64(n)) }
func SetVisibleObjects(n int)             { visibleObjects.Set(float64(n)) }

func IncPathCacheHits()   { pathCacheHitsTotal.Inc() }
func IncPathCacheMisses() { pathCacheMissesTotal.Inc() }

// IncCatalogFetch records an external catalog lookup outcome:
// "ok", "miss", or "error".
func IncCatalogFetch(outcome string) { catalogFetchesTotal.WithLabelValues(outcome).Inc() }

// IncElementFetch records an element set download/parse outcome:
// "ok", "cache", or "error".
func IncElementFetch(outcome string) { elementFetchesTotal.WithLabelValues(outcome).Inc() }

func IncWSClients() { wsClients.Inc() }
func DecWSClients() { wsClients.Dec() }

// exactRoutes are the fixed paths the metrics label set allows verbatim.
var exactRoutes = map[string]bool{
	"/":                    true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/ws":                  true,
	"/api/v1/satellites":   true,
	"/api/v1/visible":      true,
	"/api/v1/selection":    true,
	"/api/v1/observer":     true,
	"/api/v1/conjunctions": true,
}

// normalizeRoute collapses parameterized satellite/selection paths to one
// label each and everything unknown (bot scans mostly) to "other", keeping
// the path label cardinality bounded.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/api/v1/satellites/") {
		rest := strings.TrimPrefix(path, "/api/v1/satellites/")
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return "/api/v1/satellites/{id}"
		}
		switch rest[i+1:] {
		case "position", "path", "nextpass":
			return "/api/v1/satellites/{id}/" + rest[i+1:]
		}
		return "other"
	}
	if strings.HasPrefix(path, "/api/v1/selection/") {
		return "/api/v1/selection/{key}"
	}
	return "other"
}

// responseWriter captures the status code for request metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the middleware chain.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
