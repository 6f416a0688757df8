package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
app:
  name: strategy-generator
  version: 1.2.0
  env: staging

server:
  port: 9090
  host: 127.0.0.1
  read_timeout: 20s
  write_timeout: 25s
  max_header_bytes: 2097152

database:
  enabled: true
  host: db.internal
  port: 5433
  user: generator
  password: secret
  dbname: mutations
  sslmode: require
  max_open: 50
  max_idle: 10
  timeout: 3s

redis:
  enabled: true
  addr: cache.internal:6379
  db: 2
  pool_size: 20

jwt:
  secret_key: 0123456789abcdef0123456789abcdef
  duration: 12h

rate_limit:
  enabled: true
  requests_per_minute: 60
  burst: 10

logging:
  level: debug
  format: text
  output: stdout

engine:
  exit_probability: 0.25
  exit_sigma: 0.2
  tier1_sigma: 0.04
  tier2_sigma: 0.12
  tier3_rewrite_prob: 0.5
  tier3_threshold_scale: 0.1
  seed: 42
  protected_names: [signal]
  bounds:
    - name: stop_loss_pct
      min: 0.01
      max: 0.2
      default: 0.1
    - name: max_holding_days
      min: 1
      max: 60
      default: 10
      is_integer: true
  early_distribution:
    tier1.config_adjust: 0.2
    tier3.ast_rewrite: 0.8
  late_distribution:
    tier1.config_adjust: 0.7
    tier3.ast_rewrite: 0.3

sandbox:
  mode: isolated
  timeout: 45s
  max_parallel: 8

backtest:
  symbol: ETHUSDT
  timeframe: 4h
  bars: 500
  initial_capital: 25000
  fee_rate: 0.001
  step_budget: 1000000

exchange:
  name: binance
  testnet: true
  use_static: true
  static_seed: 7

cron:
  enabled: true
  evolution_spec: "@every 30s"
  snapshot_spec: "@every 2m"
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesFullFile(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "strategy-generator", cfg.App.Name)
	assert.Equal(t, "staging", cfg.App.Env)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 3*time.Second, cfg.Database.Timeout)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 12*time.Hour, cfg.JWT.Duration)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)

	assert.InDelta(t, 0.25, cfg.Engine.ExitProbability, 1e-9)
	assert.InDelta(t, 0.2, cfg.Engine.ExitSigma, 1e-9)
	assert.Equal(t, int64(42), cfg.Engine.Seed)
	require.Len(t, cfg.Engine.Bounds, 2)
	assert.Equal(t, "max_holding_days", cfg.Engine.Bounds[1].Name)
	assert.True(t, cfg.Engine.Bounds[1].IsInteger)
	assert.InDelta(t, 0.8, cfg.Engine.EarlyDistribution["tier3.ast_rewrite"], 1e-9)
	assert.InDelta(t, 0.7, cfg.Engine.LateDistribution["tier1.config_adjust"], 1e-9)

	assert.Equal(t, "isolated", cfg.Sandbox.Mode)
	assert.Equal(t, 45*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 8, cfg.Sandbox.MaxParallel)

	assert.Equal(t, "ETHUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, 500, cfg.Backtest.Bars)
	assert.Equal(t, int64(1000000), cfg.Backtest.StepBudget)

	assert.True(t, cfg.Exchange.UseStatic)
	assert.Equal(t, int64(7), cfg.Exchange.StaticSeed)

	assert.True(t, cfg.Cron.Enabled)
	assert.Equal(t, "@every 30s", cfg.Cron.EvolutionSpec)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "app:\n  name: generator\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.InDelta(t, 0.2, cfg.Engine.ExitProbability, 1e-9)
	assert.InDelta(t, 0.15, cfg.Engine.ExitSigma, 1e-9)
	assert.Equal(t, []string{"signal"}, cfg.Engine.ProtectedNames)
	assert.Equal(t, "direct", cfg.Sandbox.Mode)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "BTCUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, "1h", cfg.Backtest.Timeframe)
	assert.InDelta(t, 0.0005, cfg.Backtest.FeeRate, 1e-9)
	assert.Equal(t, "binance", cfg.Exchange.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "app: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load(writeConfigFile(t, "engine:\n  exit_probability: 2.0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "引擎配置错误")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("GENERATOR_DB_HOST", "override.internal")
	t.Setenv("GENERATOR_DB_PORT", "6543")
	t.Setenv("GENERATOR_LOG_LEVEL", "warn")
	t.Setenv("GENERATOR_EXCHANGE_TESTNET", "false")

	cfg, err := Load(writeConfigFile(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Exchange.TestNet, "env override should win over the file value")
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, NewValidator(cfg).Validate())
	assert.Equal(t, "strategy-generator", cfg.App.Name)
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "p",
		DBName: "d", SSLMode: "disable",
	}
	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=d sslmode=disable", db.DSN())
}

func TestValidatorCatchesBadSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			"bad environment",
			func(c *Config) { c.App.Env = "qa" },
			"应用配置错误",
		},
		{
			"bad port",
			func(c *Config) { c.Server.Port = 70000 },
			"服务器配置错误",
		},
		{
			"idle above open",
			func(c *Config) { c.Database.Enabled = true; c.Database.MaxIdle = 100 },
			"数据库配置错误",
		},
		{
			"redis db out of range",
			func(c *Config) { c.Redis.Enabled = true; c.Redis.DB = 99 },
			"Redis配置错误",
		},
		{
			"short production secret",
			func(c *Config) { c.App.Env = "production"; c.JWT.SecretKey = "short"; c.Exchange.UseStatic = true },
			"JWT配置错误",
		},
		{
			"bad log level",
			func(c *Config) { c.Logging.Level = "verbose" },
			"日志配置错误",
		},
		{
			"negative sigma",
			func(c *Config) { c.Engine.Tier1Sigma = -1 },
			"引擎配置错误",
		},
		{
			"inverted bounds",
			func(c *Config) {
				c.Engine.Bounds = []ParameterBound{{Name: "stop_loss_pct", Min: 0.5, Max: 0.1, Default: 0.2}}
			},
			"引擎配置错误",
		},
		{
			"distribution sum off",
			func(c *Config) {
				c.Engine.EarlyDistribution = map[string]float64{"tier1.config_adjust": 0.5, "tier3.ast_rewrite": 0.3}
			},
			"引擎配置错误",
		},
		{
			"negative weight",
			func(c *Config) {
				c.Engine.LateDistribution = map[string]float64{"tier1.config_adjust": 1.2, "tier3.ast_rewrite": -0.2}
			},
			"引擎配置错误",
		},
		{
			"zero population",
			func(c *Config) { c.Engine.PopulationSize = -3 },
			"引擎配置错误",
		},
		{
			"bad sandbox mode",
			func(c *Config) { c.Sandbox.Mode = "container" },
			"沙箱配置错误",
		},
		{
			"zero bars",
			func(c *Config) { c.Backtest.Bars = -5 },
			"回测配置错误",
		},
		{
			"production without keys",
			func(c *Config) {
				c.App.Env = "production"
				c.JWT.SecretKey = strings.Repeat("k", 32)
				c.Exchange.UseStatic = false
			},
			"交易所配置错误",
		},
		{
			"cron without spec",
			func(c *Config) { c.Cron.Enabled = true; c.Cron.EvolutionSpec = "" },
			"定时任务配置错误",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := NewValidator(cfg).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvManagerTypedGetters(t *testing.T) {
	em := NewEnvManager("test-key", "GENTEST_")

	t.Setenv("GENTEST_STR", "hello")
	t.Setenv("GENTEST_INT", "42")
	t.Setenv("GENTEST_BAD_INT", "not-a-number")
	t.Setenv("GENTEST_BOOL", "true")
	t.Setenv("GENTEST_DUR", "90s")

	assert.Equal(t, "hello", em.GetString("str", "fallback"))
	assert.Equal(t, "fallback", em.GetString("missing", "fallback"))
	assert.Equal(t, 42, em.GetInt("int", 1))
	assert.Equal(t, 1, em.GetInt("bad_int", 1))
	assert.True(t, em.GetBool("bool", false))
	assert.Equal(t, 90*time.Second, em.GetDuration("dur", time.Second))
	assert.Equal(t, time.Second, em.GetDuration("missing", time.Second))
}

func TestEnvManagerEncryptionRoundTrip(t *testing.T) {
	em := NewEnvManager("test-key", "GENTEST_")

	t.Setenv("GENTEST_SECRET", "")
	require.NoError(t, em.SetEncryptedString("secret", "super-secret-value"))

	raw := os.Getenv("GENTEST_SECRET")
	require.True(t, strings.HasPrefix(raw, "ENC:"), "value should be stored encrypted, got %q", raw)
	assert.NotContains(t, raw, "super-secret-value")

	assert.Equal(t, "super-secret-value", em.GetEncryptedString("secret", ""))
}

func TestEnvManagerPlainValuePassthrough(t *testing.T) {
	em := NewEnvManager("test-key", "GENTEST_")
	t.Setenv("GENTEST_PLAIN", "not-encrypted")
	assert.Equal(t, "not-encrypted", em.GetEncryptedString("plain", "default"))
}

func TestEnvManagerWrongKeyFallsBackToDefault(t *testing.T) {
	writer := NewEnvManager("key-one", "GENTEST_")
	t.Setenv("GENTEST_TOKEN", "")
	require.NoError(t, writer.SetEncryptedString("token", "payload"))

	// 密钥不同则解密得到乱码或失败，两种情况都不能泄露原文
	reader := NewEnvManager("key-two", "GENTEST_")
	got := reader.GetEncryptedString("token", "default")
	assert.NotEqual(t, "payload", got)
}

func TestEnvManagerValidateRequired(t *testing.T) {
	em := NewEnvManager("test-key", "GENTEST_")

	t.Setenv("GENTEST_PRESENT", "yes")
	require.NoError(t, em.ValidateRequired([]string{"present"}))

	err := em.ValidateRequired([]string{"present", "absent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENTEST_ABSENT")
}
