package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetricsRecordMutation(t *testing.T) {
	m := newTestMetrics()

	m.RecordMutation("tier3", "ast_rewrite", true)
	m.RecordMutation("tier3", "ast_rewrite", true)
	m.RecordMutation("tier3", "ast_rewrite", false)
	m.RecordMutation("tier1", "config_adjust", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutationAttempts.WithLabelValues("tier3", "ast_rewrite", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutationAttempts.WithLabelValues("tier3", "ast_rewrite", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutationAttempts.WithLabelValues("tier1", "config_adjust", "success")))
}

func TestMetricsRecordFallbackAndClamps(t *testing.T) {
	m := newTestMetrics()

	m.RecordFallback("tier3", "tier2")
	m.RecordFallback("tier3", "tier2")
	m.RecordParameterClamp("stop_loss_pct")
	m.RecordValidationRejection("import")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutationFallbacks.WithLabelValues("tier3", "tier2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parameterClamps.WithLabelValues("stop_loss_pct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationRejections.WithLabelValues("import")))
}

func TestMetricsRecordExecution(t *testing.T) {
	m := newTestMetrics()

	m.RecordExecution("direct", true, 120*time.Millisecond)
	m.RecordExecution("direct", false, 80*time.Millisecond)
	m.RecordExecution("isolated", true, 200*time.Millisecond)
	m.RecordIsolationFallback()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executionsTotal.WithLabelValues("direct", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executionsTotal.WithLabelValues("direct", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executionsTotal.WithLabelValues("isolated", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.isolationFallbacks))
	assert.Equal(t, 2, testutil.CollectAndCount(m.executionDuration))
}

func TestMetricsGauges(t *testing.T) {
	m := newTestMetrics()

	m.SetEvolutionState(42, 0.63)
	m.SetBestScore("sharpe_ratio", 1.8)
	m.SetActiveConnections(3)
	m.SetDatabaseConnections(7)

	assert.Equal(t, 42.0, testutil.ToFloat64(m.evolutionGeneration))
	assert.InDelta(t, 0.63, testutil.ToFloat64(m.populationDiversity), 1e-9)
	assert.InDelta(t, 1.8, testutil.ToFloat64(m.bestScore.WithLabelValues("sharpe_ratio")), 1e-9)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.databaseConnections))
}

func TestMetricsRecordCacheOperation(t *testing.T) {
	m := newTestMetrics()

	m.RecordCacheOperation("get", nil)
	m.RecordCacheOperation("get", assert.AnError)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheOperations.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheOperations.WithLabelValues("get", "error")))
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics()

	router := gin.New()
	router.Use(m.MetricsMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })

	for _, path := range []string{"/ping", "/ping", "/boom"} {
		w := httptest.NewRecorder()
		req, err := http.NewRequest(http.MethodGet, path, nil)
		require.NoError(t, err)
		router.ServeHTTP(w, req)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/ping", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiErrorsTotal.WithLabelValues("/boom", "server_error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpRequestsInFlight.WithLabelValues("GET", "/ping")))
}
