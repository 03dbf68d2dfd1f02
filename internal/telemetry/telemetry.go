// Package telemetry holds the Prometheus collectors for the validation
// engine. The engine performs no HTTP exposition itself; the embedding
// service supplies a registry and scrapes it however it likes.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics emitted by the engine.
type Metrics struct {
	simulationsTotal    *prometheus.CounterVec
	simulationDuration  prometheus.Histogram
	trialsTotal         *prometheus.CounterVec
	trialDuration       *prometheus.HistogramVec
	circuitBreakerTrips prometheus.Counter
	dataWarningsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the engine collectors on reg. Passing
// prometheus.NewRegistry() keeps test runs isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		simulationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_simulations_total",
				Help: "Total number of execution simulator runs",
			},
			[]string{"status"},
		),
		simulationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backtest_simulation_duration_seconds",
				Help:    "Execution simulator run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		trialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_trials_total",
				Help: "Total number of optimization trials",
			},
			[]string{"method", "status"},
		),
		trialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_trial_duration_seconds",
				Help:    "Optimization trial duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		circuitBreakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_circuit_breaker_trips_total",
				Help: "Total number of circuit breaker activations",
			},
		),
		dataWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_data_warnings_total",
				Help: "Total number of non-fatal data quality warnings",
			},
			[]string{"code"},
		),
	}

	reg.MustRegister(
		m.simulationsTotal,
		m.simulationDuration,
		m.trialsTotal,
		m.trialDuration,
		m.circuitBreakerTrips,
		m.dataWarningsTotal,
	)

	return m
}

// ObserveSimulation records one simulator run.
func (m *Metrics) ObserveSimulation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.simulationsTotal.WithLabelValues(status).Inc()
	m.simulationDuration.Observe(d.Seconds())
}

// ObserveTrial records one optimization trial.
func (m *Metrics) ObserveTrial(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.trialsTotal.WithLabelValues(method, status).Inc()
	m.trialDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncCircuitBreakerTrip records a circuit breaker activation.
func (m *Metrics) IncCircuitBreakerTrip() {
	if m == nil {
		return
	}
	m.circuitBreakerTrips.Inc()
}

// IncDataWarning records one data quality warning.
func (m *Metrics) IncDataWarning(code string) {
	if m == nil {
		return
	}
	m.dataWarningsTotal.WithLabelValues(code).Inc()
}
