package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/headerguard/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	profilingActive        prometheus.Gauge

	// header policy
	headersSetTotal    *prometheus.CounterVec
	lookupErrorsTotal  prometheus.Counter
	runtimeWritesTotal *prometheus.CounterVec

	// property sources
	propPollsTotal      *prometheus.CounterVec
	propPollErrorsTotal *prometheus.CounterVec
	propChangesTotal    *prometheus.CounterVec
	propLastSuccessTs   *prometheus.GaugeVec
	propStale           *prometheus.GaugeVec
	descReloadsTotal    *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
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
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		headersSetTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "headerpolicy_headers_set_total",
			Help: "Total policy headers written to responses by header name",
		}, []string{"header"}),
		lookupErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "headerpolicy_lookup_errors_total",
			Help: "Total requests rejected because the header policy could not be read",
		}),
		runtimeWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "headerpolicy_runtime_property_writes_total",
			Help: "Total runtime property changes made through the admin API by operation",
		}, []string{"op"}),
		propPollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "property_source_polls_total",
			Help: "Total property source poll cycles by source",
		}, []string{"source"}),
		propPollErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "property_source_poll_errors_total",
			Help: "Total failed property source polls by source",
		}, []string{"source"}),
		propChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "property_source_changes_total",
			Help: "Total property snapshot swaps with changed content by source",
		}, []string{"source"}),
		propLastSuccessTs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "property_source_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful poll by source",
		}, []string{"source"}),
		propStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "property_source_stale",
			Help: "Whether a polled property source is stale (1) or healthy (0)",
		}, []string{"source"}),
		descReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "property_descriptor_reloads_total",
			Help: "Total descriptor file reloads by result (changed, unchanged, error)",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.headersSetTotal,
		m.lookupErrorsTotal,
		m.runtimeWritesTotal,
		m.propPollsTotal,
		m.propPollErrorsTotal,
		m.propChangesTotal,
		m.propLastSuccessTs,
		m.propStale,
		m.descReloadsTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}
