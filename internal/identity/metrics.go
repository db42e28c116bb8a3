package identity

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for identity resolution. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	cacheLookupsTotal  *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	cacheEntries       prometheus.Gauge
	localTotal         *prometheus.CounterVec
	remoteTotal        *prometheus.CounterVec
	remoteDuration     prometheus.Histogram
	breakerState       prometheus.Gauge
}

// NewMetrics creates identity metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authgw"
	}

	return &Metrics{
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "resolutions_total",
				Help:      "Identity resolutions by the step that answered and outcome",
			},
			[]string{"source", "status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "resolution_duration_seconds",
				Help:      "Identity resolution latency",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"source"},
		),
		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "cache_lookups_total",
				Help:      "Identity cache lookups by result (hit, miss, expired)",
			},
			[]string{"result"},
		),
		cacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "cache_evictions_total",
				Help:      "Identity cache evictions by reason (expired, capacity)",
			},
			[]string{"reason"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "cache_entries",
				Help:      "Current number of identity cache entries",
			},
		),
		localTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "local_verifications_total",
				Help:      "Local credential verifications by result",
			},
			[]string{"result"},
		),
		remoteTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "remote_lookups_total",
				Help:      "Identity service lookups by outcome",
			},
			[]string{"outcome"},
		),
		remoteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "remote_lookup_duration_seconds",
				Help:      "Identity service lookup latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "remote_circuit_breaker_state",
				Help:      "Identity service circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}
}

// MustRegister registers all collectors with the registerer.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	if m == nil {
		return
	}
	reg.MustRegister(m.Collectors()...)
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.resolutionsTotal,
		m.resolutionDuration,
		m.cacheLookupsTotal,
		m.cacheEvictions,
		m.cacheEntries,
		m.localTotal,
		m.remoteTotal,
		m.remoteDuration,
		m.breakerState,
	}
}

// Init pre-creates label combinations so they show up before first use.
func (m *Metrics) Init() {
	if m == nil {
		return
	}
	for _, src := range []Source{SourceCache, SourceLocal, SourceRemote, SourceNone} {
		m.resolutionDuration.WithLabelValues(string(src))
		for _, status := range []string{"success", "failure"} {
			m.resolutionsTotal.WithLabelValues(string(src), status)
		}
	}
	for _, r := range []string{"hit", "miss", "expired"} {
		m.cacheLookupsTotal.WithLabelValues(r)
	}
	for _, r := range []string{"expired", "capacity"} {
		m.cacheEvictions.WithLabelValues(r)
	}
	for _, r := range []string{"success", "expired", "invalid", "missing_subject"} {
		m.localTotal.WithLabelValues(r)
	}
	for _, o := range []string{"success", "unauthorized", "unreachable", "rate_limited", "circuit_open"} {
		m.remoteTotal.WithLabelValues(o)
	}
}

func (m *Metrics) recordResolution(src Source, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	m.resolutionsTotal.WithLabelValues(string(src), status).Inc()
	m.resolutionDuration.WithLabelValues(string(src)).Observe(d.Seconds())
}

func (m *Metrics) recordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordCacheEviction(reason string, size int) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Inc()
	m.cacheEntries.Set(float64(size))
}

func (m *Metrics) setCacheEntries(size int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(size))
}

func (m *Metrics) recordLocal(result string) {
	if m == nil {
		return
	}
	m.localTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordRemote(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.remoteTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.remoteDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) setBreakerState(state float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(state)
}
