// Package database wraps the Postgres connection pool and the persistence
// of mutation and execution history.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	config *Config
	stats  *PoolStats
	mu     sync.RWMutex
	log    logger.Logger

	monitorCallback func(*PoolStats)
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// Config represents database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpen         int
	MaxIdle         int
	Timeout         time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
	MaxIdleClosed      int64
	MaxLifetimeClosed  int64
	LastUpdated        time.Time
}

// NewConnection creates a new database connection
func NewConnection(cfg *Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 25
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 15 * time.Minute
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log := logger.Module("database")

	// Test connection with retry logic
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var pingErr error
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}

		log.Warn("数据库连接失败，准备重试", "attempt", i+1, "max", maxRetries, "error", pingErr)
		if i < maxRetries-1 {
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}

	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, pingErr)
	}

	log.Info("数据库连接成功",
		"max_open", cfg.MaxOpen,
		"max_idle", cfg.MaxIdle,
		"max_lifetime", cfg.ConnMaxLifetime,
		"max_idle_time", cfg.ConnMaxIdleTime)

	database := &DB{
		DB:       db,
		config:   cfg,
		stats:    &PoolStats{},
		log:      log,
		stopChan: make(chan struct{}),
	}

	go database.monitorPoolStats()

	return database, nil
}

// Close stops the stats monitor and closes the connection pool.
func (db *DB) Close() error {
	db.stopOnce.Do(func() { close(db.stopChan) })
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats returns current connection pool statistics
func (db *DB) GetPoolStats() *PoolStats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stats := *db.stats
	return &stats
}

// SetMonitorCallback sets a callback invoked with fresh pool statistics.
func (db *DB) SetMonitorCallback(callback func(*PoolStats)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.monitorCallback = callback
}

// monitorPoolStats periodically updates connection pool statistics
func (db *DB) monitorPoolStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			db.updatePoolStats()
		case <-db.stopChan:
			return
		}
	}
}

func (db *DB) updatePoolStats() {
	stats := db.DB.Stats()

	db.mu.Lock()
	db.stats.MaxOpenConnections = stats.MaxOpenConnections
	db.stats.OpenConnections = stats.OpenConnections
	db.stats.InUse = stats.InUse
	db.stats.Idle = stats.Idle
	db.stats.WaitCount = stats.WaitCount
	db.stats.WaitDuration = stats.WaitDuration
	db.stats.MaxIdleClosed = stats.MaxIdleClosed
	db.stats.MaxLifetimeClosed = stats.MaxLifetimeClosed
	db.stats.LastUpdated = time.Now()
	callback := db.monitorCallback
	statsCopy := *db.stats
	db.mu.Unlock()

	if callback != nil {
		callback(&statsCopy)
	}

	if stats.WaitCount > 0 {
		db.log.Warn("数据库连接池压力过大",
			"wait_count", stats.WaitCount,
			"wait_duration", stats.WaitDuration,
			"in_use", stats.InUse,
			"idle", stats.Idle)
	}
}

// IsHealthy checks if the database connection pool is healthy
func (db *DB) IsHealthy() bool {
	stats := db.GetPoolStats()

	if stats.MaxOpenConnections > 0 && stats.InUse > stats.MaxOpenConnections*80/100 {
		return false
	}
	if stats.WaitCount > 100 {
		return false
	}
	return true
}

// HealthStatus returns detailed health status for diagnostics endpoints.
func (db *DB) HealthStatus(ctx context.Context) map[string]interface{} {
	stats := db.GetPoolStats()

	pingOK := true
	if err := db.PingContext(ctx); err != nil {
		pingOK = false
		db.log.Warn("数据库健康检查失败", "error", err)
	}

	return map[string]interface{}{
		"healthy":              db.IsHealthy() && pingOK,
		"ping_successful":      pingOK,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
		"last_updated":         stats.LastUpdated,
	}
}
