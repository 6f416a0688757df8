// Package config loads and validates the service configuration. Every
// construction-time invariant is checked eagerly at load, never deferred to
// first use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Cron       CronConfig       `yaml:"cron"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DSN builds the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Duration  time.Duration `yaml:"duration"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// EngineConfig represents mutation engine configuration
type EngineConfig struct {
	ExitProbability     float64            `yaml:"exit_probability"`
	ExitSigma           float64            `yaml:"exit_sigma"`
	Tier1Sigma          float64            `yaml:"tier1_sigma"`
	Tier2Sigma          float64            `yaml:"tier2_sigma"`
	Tier3RewriteProb    float64            `yaml:"tier3_rewrite_prob"`
	Tier3ThresholdScale float64            `yaml:"tier3_threshold_scale"`
	DisableFallback     bool               `yaml:"disable_fallback"`
	DisableValidation   bool               `yaml:"disable_validation"`
	Seed                int64              `yaml:"seed"`
	PopulationSize      int                `yaml:"population_size"`
	MaxGenerations      int                `yaml:"max_generations"`
	SeedSnippets        []string           `yaml:"seed_snippets"`
	ProtectedNames      []string           `yaml:"protected_names"`
	Bounds              []ParameterBound   `yaml:"bounds"`
	EarlyDistribution   map[string]float64 `yaml:"early_distribution"`
	LateDistribution    map[string]float64 `yaml:"late_distribution"`
}

// ParameterBound constrains one exit parameter in configuration form.
type ParameterBound struct {
	Name      string  `yaml:"name"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Default   float64 `yaml:"default"`
	IsInteger bool    `yaml:"is_integer"`
}

// SandboxConfig represents execution wrapper configuration
type SandboxConfig struct {
	Mode        string        `yaml:"mode"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxParallel int           `yaml:"max_parallel"`
}

// BacktestConfig represents execution harness configuration
type BacktestConfig struct {
	Symbol         string  `yaml:"symbol"`
	Timeframe      string  `yaml:"timeframe"`
	Bars           int     `yaml:"bars"`
	InitialCapital float64 `yaml:"initial_capital"`
	FeeRate        float64 `yaml:"fee_rate"`
	StepBudget     int64   `yaml:"step_budget"`
}

// ExchangeConfig represents market data configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	TestNet    bool   `yaml:"testnet"`
	UseStatic  bool   `yaml:"use_static"`
	StaticSeed int64  `yaml:"static_seed"`
}

// CronConfig represents the periodic job schedule
type CronConfig struct {
	Enabled       bool   `yaml:"enabled"`
	EvolutionSpec string `yaml:"evolution_spec"`
	SnapshotSpec  string `yaml:"snapshot_spec"`
}

// Load loads configuration from a YAML file, applies environment overrides
// and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides(NewEnvManager("", ""))

	if err := NewValidator(&config).Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a validated configuration with every default applied,
// used by tests and offline runs that carry no config file.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "strategy-generator"
	}
	if c.App.Version == "" {
		c.App.Version = "dev"
	}
	if c.App.Env == "" {
		c.App.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8082
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.DBName == "" {
		c.Database.DBName = "generator"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 25
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 5 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.JWT.Duration == 0 {
		c.JWT.Duration = 24 * time.Hour
	}
	if c.Monitoring.PrometheusPath == "" {
		c.Monitoring.PrometheusPath = "/metrics"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Authorization"}
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Engine.ExitProbability == 0 {
		c.Engine.ExitProbability = 0.2
	}
	if c.Engine.ExitSigma == 0 {
		c.Engine.ExitSigma = 0.15
	}
	if c.Engine.Tier1Sigma == 0 {
		c.Engine.Tier1Sigma = 0.05
	}
	if c.Engine.Tier2Sigma == 0 {
		c.Engine.Tier2Sigma = 0.10
	}
	if c.Engine.Tier3RewriteProb == 0 {
		c.Engine.Tier3RewriteProb = 0.3
	}
	if c.Engine.Tier3ThresholdScale == 0 {
		c.Engine.Tier3ThresholdScale = 0.2
	}
	if c.Engine.PopulationSize == 0 {
		c.Engine.PopulationSize = 8
	}
	if c.Engine.MaxGenerations == 0 {
		c.Engine.MaxGenerations = 50
	}
	if len(c.Engine.ProtectedNames) == 0 {
		c.Engine.ProtectedNames = []string{"signal"}
	}
	if c.Sandbox.Mode == "" {
		c.Sandbox.Mode = "direct"
	}
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = 30 * time.Second
	}
	if c.Sandbox.MaxParallel == 0 {
		c.Sandbox.MaxParallel = 4
	}
	if c.Backtest.Symbol == "" {
		c.Backtest.Symbol = "BTCUSDT"
	}
	if c.Backtest.Timeframe == "" {
		c.Backtest.Timeframe = "1h"
	}
	if c.Backtest.Bars == 0 {
		c.Backtest.Bars = 250
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 10000
	}
	if c.Backtest.FeeRate == 0 {
		c.Backtest.FeeRate = 0.0005
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Cron.EvolutionSpec == "" {
		c.Cron.EvolutionSpec = "@every 1m"
	}
	if c.Cron.SnapshotSpec == "" {
		c.Cron.SnapshotSpec = "@every 5m"
	}
}

// applyEnvOverrides pulls secrets and deploy-specific settings from the
// environment so they never have to live in the YAML file.
func (c *Config) applyEnvOverrides(env *EnvManager) {
	c.Database.Host = env.GetString("DB_HOST", c.Database.Host)
	c.Database.Port = env.GetInt("DB_PORT", c.Database.Port)
	c.Database.User = env.GetString("DB_USER", c.Database.User)
	c.Database.Password = env.GetEncryptedString("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = env.GetString("DB_NAME", c.Database.DBName)

	c.Redis.Addr = env.GetString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = env.GetEncryptedString("REDIS_PASSWORD", c.Redis.Password)

	c.JWT.SecretKey = env.GetEncryptedString("JWT_SECRET", c.JWT.SecretKey)

	c.Exchange.APIKey = env.GetEncryptedString("EXCHANGE_API_KEY", c.Exchange.APIKey)
	c.Exchange.APISecret = env.GetEncryptedString("EXCHANGE_API_SECRET", c.Exchange.APISecret)
	c.Exchange.TestNet = env.GetBool("EXCHANGE_TESTNET", c.Exchange.TestNet)

	c.Server.Port = env.GetInt("SERVER_PORT", c.Server.Port)
	c.Logging.Level = env.GetString("LOG_LEVEL", c.Logging.Level)
}
