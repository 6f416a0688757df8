package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/backtest"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/cache"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/engine"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/market"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/monitor"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/sandbox"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

const testSnippet = `momentum = close.pct_change(5)
signal = momentum > 0
stop_loss_pct = 0.10
take_profit_pct = 0.15
trailing_stop_pct = 0.05
max_holding_days = 10
`

// newTestEngineStack wires a full engine over the static market provider.
func newTestEngineStack(t *testing.T) *engine.Engine {
	t.Helper()

	exit, err := mutation.NewExitParameterMutator(mutation.ExitMutatorConfig{Seed: 42})
	require.NoError(t, err)
	t1, err := mutation.NewTier1Mutator(mutation.Tier1Config{Seed: 43})
	require.NoError(t, err)
	t2, err := mutation.NewTier2Mutator(mutation.Tier2Config{Seed: 44})
	require.NoError(t, err)
	t3, err := mutation.NewTier3Mutator(mutation.Tier3Config{Seed: 45}, nil)
	require.NoError(t, err)

	tiers := map[mutation.Tier]mutation.Mutator{
		mutation.Tier1: t1,
		mutation.Tier2: t2,
		mutation.Tier3: t3,
	}
	sched, err := mutation.NewScheduler(mutation.SchedulerConfig{Seed: 46}, mutation.OperatorKeysOf(tiers))
	require.NoError(t, err)
	tracker := mutation.NewTracker(mutation.TrackerConfig{})
	validator := security.NewValidator(security.Config{})

	op, err := mutation.NewUnifiedOperator(mutation.OperatorConfig{Seed: 47}, mutation.OperatorComponents{
		Exit:      exit,
		Tiers:     tiers,
		Scheduler: sched,
		Tracker:   tracker,
		Validator: validator,
	})
	require.NoError(t, err)

	harness, err := backtest.NewHarness(
		market.NewStaticProvider(market.StaticConfig{Seed: 11}),
		backtest.Config{Bars: 120},
	)
	require.NoError(t, err)
	backend, err := sandbox.NewHarnessBackend(harness)
	require.NoError(t, err)
	wrapper, err := sandbox.NewWrapper(sandbox.Config{
		Mode:        sandbox.ModeDirect,
		Timeout:     10 * time.Second,
		MaxParallel: 2,
	}, backend, nil)
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{PopulationSize: 2}, engine.Components{
		Operator:  op,
		Validator: validator,
		Sandbox:   wrapper,
		Tracker:   tracker,
	})
	require.NoError(t, err)
	return eng
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.App.Env = "test"
	cfg.JWT.SecretKey = "test-secret-key-for-api-tests"
	cfg.RateLimit.Enabled = false
	cfg.Monitoring.PrometheusEnabled = false
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg, Dependencies{
		Engine:  newTestEngineStack(t),
		Cache:   cache.NewCache(cache.NewMemoryStore(100)),
		Metrics: monitor.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return srv
}

func perform(srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func authToken(t *testing.T, srv *Server) string {
	t.Helper()
	token, err := srv.jwtManager.GenerateToken("user-1", "tester", "admin")
	require.NoError(t, err)
	return token
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(config.Default(), Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")
}

func TestServerHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	w := perform(srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeResponse(t, w)
	assert.Equal(t, "ok", body["status"])

	services, ok := body["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", services["engine"])
	assert.Equal(t, "unavailable", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestServerAuthRequired(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(srv, http.MethodGet, "/api/v1/evolution/status", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestServerMutateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	token := authToken(t, srv)

	t.Run("valid snippet", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/mutations", token, MutateRequest{
			Code:       testSnippet,
			Generation: 2,
		})
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeResponse(t, w)
		require.Equal(t, true, body["success"])

		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, data["mutated_code"])
		assert.Equal(t, float64(2), data["generation"])
	})

	t.Run("unsafe snippet rejected", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/mutations", token, MutateRequest{
			Code: "import os\nsignal = close > 0\n",
		})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		body := decodeResponse(t, w)
		assert.Equal(t, false, body["success"])
		assert.NotEmpty(t, body["error"])
	})

	t.Run("missing code", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/mutations", token, map[string]interface{}{
			"generation": 1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthorized", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/mutations", "", MutateRequest{Code: testSnippet})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestServerValidateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	token := authToken(t, srv)

	t.Run("clean snippet", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/validations", token, ValidateRequest{Code: testSnippet})
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeResponse(t, w)
		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, data["valid"])
	})

	t.Run("lookahead snippet", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/validations", token, ValidateRequest{
			Code: "signal = close.shift(-1) > close\n",
		})
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeResponse(t, w)
		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, false, data["valid"])
	})
}

func TestServerExecuteEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	token := authToken(t, srv)

	w := perform(srv, http.MethodPost, "/api/v1/executions", token, ExecuteRequest{Code: testSnippet})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeResponse(t, w)
	require.Equal(t, true, body["success"])

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "direct", data["mode"])

	metrics, ok := data["metrics"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, metrics, "sharpe")
}

func TestServerStatisticsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	token := authToken(t, srv)

	// Generate some activity first.
	perform(srv, http.MethodPost, "/api/v1/mutations", token, MutateRequest{Code: testSnippet})
	perform(srv, http.MethodPost, "/api/v1/executions", token, ExecuteRequest{Code: testSnippet})

	t.Run("tier statistics", func(t *testing.T) {
		w := perform(srv, http.MethodGet, "/api/v1/statistics/tiers", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeResponse(t, w)
		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, data, "tiers")
		assert.Contains(t, data, "comparison")
	})

	t.Run("sandbox statistics", func(t *testing.T) {
		w := perform(srv, http.MethodGet, "/api/v1/statistics/sandbox", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeResponse(t, w)
		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(1), data["executions"])
	})

	t.Run("evolution status", func(t *testing.T) {
		w := perform(srv, http.MethodGet, "/api/v1/evolution/status", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeResponse(t, w)
		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(0), data["generation"])
		assert.Equal(t, float64(2), data["population_size"])
	})
}

func TestServerLoginWithoutUserStore(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("no database", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
			Username: "alice",
			Password: "secret-password",
		})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("bad payload", func(t *testing.T) {
		w := perform(srv, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "alice",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServerRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 60
		cfg.RateLimit.Burst = 1
	})

	first := perform(srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, first.Code)

	limited := false
	for i := 0; i < 3; i++ {
		w := perform(srv, http.MethodGet, "/health", "", nil)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of requests should trip the limiter")
}

func TestServerCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mutations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamHubBroadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewStreamHub(nil, nil)
	router := gin.New()
	router.GET("/ws/events", hub.HandleEvents)

	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast("mutation", map[string]string{"candidate": "abc"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg StreamMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "mutation", msg.Type)
	assert.False(t, msg.Time.IsZero())

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamHubDropsSlowClients(t *testing.T) {
	hub := NewStreamHub(nil, nil)

	// A client that never drains its send channel.
	stuck := &streamClient{
		ID:   "stuck",
		Send: make(chan []byte, 1),
		hub:  hub,
	}
	hub.clients[stuck.ID] = stuck

	hub.Broadcast("execution", gin.H{"n": 1})
	hub.Broadcast("execution", gin.H{"n": 2})

	assert.Equal(t, 0, hub.ClientCount())
}
