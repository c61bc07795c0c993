package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tener/ggp-aps/internal/version"
)

// ServerMetrics owns a private registry exposed on the admin listener.
// Labels are limited to method, chi route, status and small fixed enums.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	panicTotal  prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	ratelimitDenied   prometheus.Counter
	ratelimitCapacity prometheus.Counter

	resolveTotal      *prometheus.CounterVec
	storeInfo         *prometheus.GaugeVec
	storeLoadedAt     prometheus.Gauge
	storeSyncDuration prometheus.Histogram
	storeSyncErrors   *prometheus.CounterVec
	storeModified     *prometheus.CounterVec
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(64, 4, 9),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times the rate limiter client table was full",
		}),
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamerepo_resolve_total",
			Help: "Resource resolutions by outcome (found, not_found, malformed, bad_metadata, error)",
		}, []string{"outcome"}),
		storeInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gamestore_info",
			Help: "Resource store being served (labels carry identity, value is always 1)",
		}, []string{"source", "sha256"}),
		storeLoadedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamestore_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the resource store was made available",
		}),
		storeSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gamestore_sync_duration_seconds",
			Help:    "Time to fetch, verify and extract the resource store bundle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		storeSyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamestore_sync_errors_total",
			Help: "Resource store sync failures by stage",
		}, []string{"stage"}),
		storeModified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamestore_modifications_total",
			Help: "Filesystem changes observed under the resource store by operation",
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.panicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDenied,
		m.ratelimitCapacity,
		m.resolveTotal,
		m.storeInfo,
		m.storeLoadedAt,
		m.storeSyncDuration,
		m.storeSyncErrors,
		m.storeModified,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and for callers that add collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.panicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.ratelimitDenied.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacity.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingActive.Set(boolGauge(active)) }

// ObserveResolve counts one resolution outcome.
func (m *ServerMetrics) ObserveResolve(outcome string) {
	m.resolveTotal.WithLabelValues(outcome).Inc()
}

// SetStore records which store is being served. source is "local" or "s3";
// hash is empty for a local tree.
func (m *ServerMetrics) SetStore(source, hash string, loadedAt time.Time) {
	m.storeInfo.Reset()
	m.storeInfo.WithLabelValues(source, hash).Set(1)
	m.storeLoadedAt.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) ObserveStoreSyncDuration(seconds float64) {
	m.storeSyncDuration.Observe(seconds)
}

func (m *ServerMetrics) IncStoreSyncError(stage string) {
	m.storeSyncErrors.WithLabelValues(stage).Inc()
}

// IncStoreModification counts a change seen by the store watch.
func (m *ServerMetrics) IncStoreModification(op string) {
	m.storeModified.WithLabelValues(op).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
