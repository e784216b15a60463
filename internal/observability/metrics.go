package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
	depthBuckets         = []float64{0, 1, 2, 3, 4, 6, 8}
)

// Form save outcomes.
const (
	SaveCreated  = "created"
	SaveUpdated  = "updated"
	SaveInvalid  = "invalid"
	SaveReplayed = "replayed"
	SaveConflict = "conflict"
	SaveError    = "error"
)

// Metrics holds the Prometheus instruments of the service.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	FormRendersTotal       *prometheus.CounterVec
	FormSavesTotal         *prometheus.CounterVec
	FormValidationFailures *prometheus.CounterVec
	FormDeletesTotal       *prometheus.CounterVec
	RelationLinksTotal     *prometheus.CounterVec
	ScopeRedirectsTotal    *prometheus.CounterVec
	NestingDepth           prometheus.Histogram

	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	DefinitionsLoaded prometheus.Gauge
	RecordsSeeded     prometheus.Counter
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridform_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridform_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridform_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		FormRendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_form_renders_total",
			Help: "Item forms rendered, by mode (new, edit, view).",
		}, []string{"grid", "mode"}),
		FormSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_form_saves_total",
			Help: "Item form submissions, by outcome.",
		}, []string{"grid", "outcome"}),
		FormValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_form_validation_failures_total",
			Help: "Invalid fields reported by item form submissions.",
		}, []string{"grid"}),
		FormDeletesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_form_deletes_total",
			Help: "Item deletions, by mode (delete, unlink).",
		}, []string{"grid", "mode"}),
		RelationLinksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_relation_links_total",
			Help: "Existing records linked into a grid's relation.",
		}, []string{"grid"}),
		ScopeRedirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_scope_redirects_total",
			Help: "Item requests for records outside the grid, redirected to the listing.",
		}, []string{"grid"}),
		NestingDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridform_item_nesting_depth",
			Help:    "Nesting depth of handled item requests.",
			Buckets: depthBuckets,
		}),

		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridform_store_operation_duration_seconds",
			Help:    "Record store operation duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"operation"}),
		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridform_store_errors_total",
			Help: "Record store operations that failed.",
		}, []string{"operation"}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridform_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridform_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridform_definitions_loaded",
			Help: "Number of loaded grid definitions.",
		}),
		RecordsSeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridform_records_seeded_total",
			Help: "Records created from fixture files.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.FormRendersTotal,
		m.FormSavesTotal,
		m.FormValidationFailures,
		m.FormDeletesTotal,
		m.RelationLinksTotal,
		m.ScopeRedirectsTotal,
		m.NestingDepth,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.DefinitionsLoaded,
		m.RecordsSeeded,
	)
	return m
}

// --- Recording helpers ---
//
// Every helper is a no-op on a nil *Metrics so components can run without
// instrumentation.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordFormRender records a rendered item form.
func (m *Metrics) RecordFormRender(grid, mode string) {
	if m == nil {
		return
	}
	m.FormRendersTotal.WithLabelValues(grid, mode).Inc()
}

// RecordFormSave records the outcome of an item form submission.
func (m *Metrics) RecordFormSave(grid, outcome string) {
	if m == nil {
		return
	}
	m.FormSavesTotal.WithLabelValues(grid, outcome).Inc()
}

// RecordValidationFailures records the number of invalid fields of a
// rejected submission.
func (m *Metrics) RecordValidationFailures(grid string, fields int) {
	if m == nil || fields <= 0 {
		return
	}
	m.FormValidationFailures.WithLabelValues(grid).Add(float64(fields))
}

// RecordDelete records an item deletion or unlink.
func (m *Metrics) RecordDelete(grid, mode string) {
	if m == nil {
		return
	}
	m.FormDeletesTotal.WithLabelValues(grid, mode).Inc()
}

// RecordLink records an existing record linked into a relation.
func (m *Metrics) RecordLink(grid string) {
	if m == nil {
		return
	}
	m.RelationLinksTotal.WithLabelValues(grid).Inc()
}

// RecordScopeRedirect records an out-of-scope item request.
func (m *Metrics) RecordScopeRedirect(grid string) {
	if m == nil {
		return
	}
	m.ScopeRedirectsTotal.WithLabelValues(grid).Inc()
}

// RecordNestingDepth records the depth of a handled item request.
func (m *Metrics) RecordNestingDepth(depth int) {
	if m == nil {
		return
	}
	m.NestingDepth.Observe(float64(depth))
}

// RecordStoreOperation records a record store call.
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// SetDefinitionsLoaded sets the number of loaded grid definitions.
func (m *Metrics) SetDefinitionsLoaded(count int) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(float64(count))
}

// RecordSeeded records records created from fixtures.
func (m *Metrics) RecordSeeded(count int) {
	if m == nil {
		return
	}
	m.RecordsSeeded.Add(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware records request metrics labelled by chi's route pattern
// rather than the raw path, which carries record IDs.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a Prometheus handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
