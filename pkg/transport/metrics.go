package transport

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records client-side request statistics. Collectors are registered
// on the Registerer passed to NewMetrics; nothing is registered globally.
type Metrics struct {
	// Requests counts completed HTTP exchanges by service, method and status.
	Requests *prometheus.CounterVec

	// Duration observes request latency in seconds, including retries' individual attempts.
	Duration *prometheus.HistogramVec

	// Attestations counts attestation tokens created, by result (ok, error).
	Attestations *prometheus.CounterVec

	// RateLimited counts 429 responses by service.
	RateLimited *prometheus.CounterVec

	// Retries counts retry attempts by service.
	Retries *prometheus.CounterVec
}

// NewMetrics creates the SDK collectors on reg. A nil reg creates working but
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bravozero_client_requests_total",
			Help: "Total number of HTTP requests sent to Bravo Zero services",
		}, []string{"service", "method", "status"}),

		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bravozero_client_request_duration_seconds",
			Help:    "Latency of individual HTTP attempts to Bravo Zero services",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method"}),

		Attestations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bravozero_client_attestations_total",
			Help: "Total number of PERSONA attestations created",
		}, []string{"result"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bravozero_client_rate_limited_total",
			Help: "Total number of 429 responses received",
		}, []string{"service"}),

		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bravozero_client_retries_total",
			Help: "Total number of request retries",
		}, []string{"service"}),
	}
}

func (m *Metrics) observeRequest(service, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(service, method, code).Inc()
	m.Duration.WithLabelValues(service, method).Observe(elapsed.Seconds())
}

func (m *Metrics) observeAttestation(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Attestations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRateLimited(service string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(service).Inc()
}

func (m *Metrics) observeRetry(service string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(service).Inc()
}
