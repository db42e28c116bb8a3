package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for backend calls. A nil *Metrics
// records nothing.
type Metrics struct {
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	multipartParts  *prometheus.CounterVec
}

// NewMetrics creates proxy metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authgw"
	}

	return &Metrics{
		backendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "backend_requests_total",
				Help:      "Backend responses by service, method and status code",
			},
			[]string{"service", "method", "status"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "backend_duration_seconds",
				Help:      "Time until backend response headers arrive",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Forwarding failures by service and error type",
			},
			[]string{"service", "error_type"},
		),
		multipartParts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "multipart_parts_total",
				Help:      "Multipart parts re-encoded by kind (field, file)",
			},
			[]string{"kind"},
		),
	}
}

// MustRegister registers all collectors with the registerer.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	if m == nil {
		return
	}
	reg.MustRegister(m.backendRequests, m.backendDuration, m.errorsTotal, m.multipartParts)
}

func (m *Metrics) recordBackend(service, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	m.backendDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) recordError(service, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(service, errorType).Inc()
}

func (m *Metrics) recordParts(fields, files int) {
	if m == nil {
		return
	}
	m.multipartParts.WithLabelValues("field").Add(float64(fields))
	m.multipartParts.WithLabelValues("file").Add(float64(files))
}
