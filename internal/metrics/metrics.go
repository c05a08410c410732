package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for pipemedic
type Metrics struct {
	// Session metrics
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	LastSession     prometheus.Gauge

	// Attempt metrics
	Attempts *prometheus.CounterVec

	// Error metrics (by failure kind)
	Errors *prometheus.CounterVec

	// Provider operation metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	ProviderTokens  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipemedic_sessions_total",
				Help: "Total number of healing sessions by outcome",
			},
			[]string{"outcome"},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipemedic_session_duration_seconds",
				Help:    "Healing session duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		LastSession: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipemedic_last_session_timestamp_seconds",
				Help: "Unix timestamp of the last finished session",
			},
		),
		Attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipemedic_attempts_total",
				Help: "Total number of repair attempts by result",
			},
			[]string{"result"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipemedic_errors_total",
				Help: "Total number of pipeline failures by kind",
			},
			[]string{"kind"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipemedic_provider_calls_total",
				Help: "Total number of generation provider calls",
			},
			[]string{"provider", "model", "success"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipemedic_provider_latency_seconds",
				Help:    "Generation provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"provider", "model"},
		),
		ProviderTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipemedic_provider_tokens_total",
				Help: "Total tokens consumed by generation calls",
			},
			[]string{"provider", "model"},
		),
	}
}

// ObserveSession records a finished session.
func (m *Metrics) ObserveSession(outcome Outcome, elapsed time.Duration, at time.Time) {
	m.Sessions.WithLabelValues(string(outcome)).Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
	m.LastSession.Set(float64(at.Unix()))
}

// ObserveAttempt records one repair attempt result.
func (m *Metrics) ObserveAttempt(result string) {
	m.Attempts.WithLabelValues(result).Inc()
}

// ObserveError records a pipeline failure of the given kind.
func (m *Metrics) ObserveError(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}

// ObserveProviderCall records one generation call.
func (m *Metrics) ObserveProviderCall(provider, model string, success bool, latency time.Duration, tokens int) {
	m.ProviderCalls.WithLabelValues(provider, model, strconv.FormatBool(success)).Inc()
	if success {
		m.ProviderLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
	}
	if tokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model).Add(float64(tokens))
	}
}
