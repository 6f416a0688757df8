// Package monitor exposes prometheus metrics for the mutation pipeline and
// the HTTP surface in front of it.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// 变异指标
	mutationAttempts  *prometheus.CounterVec
	mutationFallbacks *prometheus.CounterVec
	parameterClamps   *prometheus.CounterVec

	// 校验指标
	validationRejections *prometheus.CounterVec

	// 执行指标
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	isolationFallbacks prometheus.Counter

	// 进化指标
	evolutionGeneration prometheus.Gauge
	populationDiversity prometheus.Gauge
	bestScore           *prometheus.GaugeVec

	// API指标
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	apiErrorsTotal       *prometheus.CounterVec
	activeConnections    prometheus.Gauge

	// 存储指标
	databaseConnections prometheus.Gauge
	databaseQueryTime   *prometheus.HistogramVec
	cacheOperations     *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registerer.
// Pass prometheus.DefaultRegisterer in the service binary.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		mutationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_attempts_total",
			Help: "Total number of mutation attempts",
		}, []string{"tier", "operation", "outcome"}),

		mutationFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_fallbacks_total",
			Help: "Total number of tier fallback steps",
		}, []string{"from_tier", "to_tier"}),

		parameterClamps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exit_parameter_clamps_total",
			Help: "Total number of exit parameter values clamped to bounds",
		}, []string{"parameter"}),

		validationRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_rejections_total",
			Help: "Total number of snippets rejected by the security screen",
		}, []string{"rule"}),

		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "candidate_executions_total",
			Help: "Total number of candidate executions",
		}, []string{"mode", "status"}),

		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "candidate_execution_duration_seconds",
			Help:    "Candidate execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),

		isolationFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "isolation_fallbacks_total",
			Help: "Total number of isolated executions that fell back to direct",
		}),

		evolutionGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evolution_generation",
			Help: "Current evolution generation",
		}),

		populationDiversity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "population_diversity",
			Help: "Current population diversity score",
		}),

		bestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evolution_best_score",
			Help: "Best candidate score seen so far",
		}, []string{"metric"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		httpRequestsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		}, []string{"method", "endpoint"}),

		apiErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of API errors",
		}, []string{"endpoint", "error_type"}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),

		databaseConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "database_connections",
			Help: "Number of open database connections",
		}),

		databaseQueryTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "database_query_time_seconds",
			Help:    "Database query time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type"}),

		cacheOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations",
		}, []string{"operation", "status"}),
	}
}

// RecordMutation records one mutation attempt outcome.
func (m *Metrics) RecordMutation(tier, operation string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.mutationAttempts.WithLabelValues(tier, operation, outcome).Inc()
}

// RecordFallback records one fallback step in the tier cascade.
func (m *Metrics) RecordFallback(fromTier, toTier string) {
	m.mutationFallbacks.WithLabelValues(fromTier, toTier).Inc()
}

// RecordParameterClamp records an exit parameter value clamped to its bounds.
func (m *Metrics) RecordParameterClamp(parameter string) {
	m.parameterClamps.WithLabelValues(parameter).Inc()
}

// RecordValidationRejection records a snippet rejected by the security screen.
func (m *Metrics) RecordValidationRejection(rule string) {
	m.validationRejections.WithLabelValues(rule).Inc()
}

// RecordExecution records one candidate execution.
func (m *Metrics) RecordExecution(mode string, success bool, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	m.executionsTotal.WithLabelValues(mode, status).Inc()
	m.executionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordIsolationFallback records an isolated execution that fell back to
// the direct backend.
func (m *Metrics) RecordIsolationFallback() {
	m.isolationFallbacks.Inc()
}

// SetEvolutionState updates the generation and diversity gauges.
func (m *Metrics) SetEvolutionState(generation int, diversity float64) {
	m.evolutionGeneration.Set(float64(generation))
	m.populationDiversity.Set(diversity)
}

// SetBestScore updates the best score gauge for one result metric.
func (m *Metrics) SetBestScore(metric string, value float64) {
	m.bestScore.WithLabelValues(metric).Set(value)
}

// SetActiveConnections sets the number of active WebSocket connections.
func (m *Metrics) SetActiveConnections(count float64) {
	m.activeConnections.Set(count)
}

// SetDatabaseConnections sets the number of open database connections.
func (m *Metrics) SetDatabaseConnections(count int) {
	m.databaseConnections.Set(float64(count))
}

// RecordDatabaseQueryTime records one database query duration.
func (m *Metrics) RecordDatabaseQueryTime(queryType string, duration time.Duration) {
	m.databaseQueryTime.WithLabelValues(queryType).Observe(duration.Seconds())
}

// RecordCacheOperation records one cache operation outcome.
func (m *Metrics) RecordCacheOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.cacheOperations.WithLabelValues(operation, status).Inc()
}
