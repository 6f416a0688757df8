package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/api"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/backtest"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/cache"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/database"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/engine"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/market"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/monitor"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/sandbox"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

const (
	evolutionLock    = "evolution"
	evolutionLockTTL = 15 * time.Minute
	epochTimeout     = 10 * time.Minute
	snapshotTimeout  = time.Minute
	historyRetention = 30 * 24 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// .env is optional; deployed environments set real variables.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:      logger.LogLevel(cfg.Logging.Level),
		Format:     logger.LogFormat(cfg.Logging.Format),
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	log := logger.Module("main")
	log.Info("starting strategy mutation engine",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)

	var db *database.DB
	var history *database.HistoryRepo
	if cfg.Database.Enabled {
		db, err = database.NewConnection(&database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxOpen:  cfg.Database.MaxOpen,
			MaxIdle:  cfg.Database.MaxIdle,
			Timeout:  cfg.Database.Timeout,
		})
		if err != nil {
			log.Warn("database unavailable, history persistence disabled", "error", err)
			db = nil
		} else {
			db.SetMonitorCallback(func(stats *database.PoolStats) {
				metrics.SetDatabaseConnections(stats.OpenConnections)
			})
			history = database.NewHistoryRepo(db)
		}
	}

	store := cache.NewCache(cache.New(cache.Config{
		Enabled:  cfg.Redis.Enabled,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger.Module("cache")))

	eng, hub, err := buildEngine(cfg, metrics, store, history)
	if err != nil {
		stdlog.Fatalf("failed to build engine: %v", err)
	}

	server, err := api.NewServer(cfg, api.Dependencies{
		Engine:  eng,
		Hub:     hub,
		DB:      db,
		Cache:   store,
		Metrics: metrics,
	})
	if err != nil {
		stdlog.Fatalf("failed to build server: %v", err)
	}

	var jobs *cron.Cron
	if cfg.Cron.Enabled {
		jobs, err = scheduleJobs(cfg, eng, store, history, log)
		if err != nil {
			stdlog.Fatalf("failed to schedule jobs: %v", err)
		}
		jobs.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server failed", "error", err)
	}

	if jobs != nil {
		// Wait for running jobs before tearing down their dependencies.
		<-jobs.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("stopped")
}

// buildEngine wires the mutation stack, the market provider, the sandbox
// and the websocket hub into one engine.
func buildEngine(cfg *config.Config, metrics *monitor.Metrics, store *cache.Cache, history *database.HistoryRepo) (*engine.Engine, *api.StreamHub, error) {
	log := logger.Module("main")

	bounds := make([]mutation.ParameterBounds, 0, len(cfg.Engine.Bounds))
	for _, b := range cfg.Engine.Bounds {
		bounds = append(bounds, mutation.ParameterBounds{
			Name:      b.Name,
			Min:       b.Min,
			Max:       b.Max,
			Default:   b.Default,
			IsInteger: b.IsInteger,
		})
	}

	exit, err := mutation.NewExitParameterMutator(mutation.ExitMutatorConfig{
		Sigma:  cfg.Engine.ExitSigma,
		Seed:   seedAt(cfg.Engine.Seed, 1),
		Bounds: bounds,
	})
	if err != nil {
		return nil, nil, err
	}

	t1, err := mutation.NewTier1Mutator(mutation.Tier1Config{
		Sigma:  cfg.Engine.Tier1Sigma,
		Seed:   seedAt(cfg.Engine.Seed, 2),
		Bounds: bounds,
	})
	if err != nil {
		return nil, nil, err
	}

	t2, err := mutation.NewTier2Mutator(mutation.Tier2Config{
		Sigma:          cfg.Engine.Tier2Sigma,
		Seed:           seedAt(cfg.Engine.Seed, 3),
		ProtectedNames: cfg.Engine.ProtectedNames,
	})
	if err != nil {
		return nil, nil, err
	}

	t3, err := mutation.NewTier3Mutator(mutation.Tier3Config{
		ComparatorProb: cfg.Engine.Tier3RewriteProb,
		ThresholdProb:  cfg.Engine.Tier3RewriteProb,
		ArithmeticProb: cfg.Engine.Tier3RewriteProb,
		ThresholdScale: cfg.Engine.Tier3ThresholdScale,
		Seed:           seedAt(cfg.Engine.Seed, 4),
	}, nil)
	if err != nil {
		return nil, nil, err
	}

	tiers := map[mutation.Tier]mutation.Mutator{
		mutation.Tier1: t1,
		mutation.Tier2: t2,
		mutation.Tier3: t3,
	}

	scheduler, err := mutation.NewScheduler(mutation.SchedulerConfig{
		EarlyDistribution: cfg.Engine.EarlyDistribution,
		LateDistribution:  cfg.Engine.LateDistribution,
		Seed:              seedAt(cfg.Engine.Seed, 5),
	}, mutation.OperatorKeysOf(tiers))
	if err != nil {
		return nil, nil, err
	}

	tracker := mutation.NewTracker(mutation.TrackerConfig{})
	validator := security.NewValidator(security.Config{})

	operator, err := mutation.NewUnifiedOperator(mutation.OperatorConfig{
		ExitProbability:   cfg.Engine.ExitProbability,
		DisableFallback:   cfg.Engine.DisableFallback,
		DisableValidation: cfg.Engine.DisableValidation,
		Seed:              seedAt(cfg.Engine.Seed, 6),
	}, mutation.OperatorComponents{
		Exit:      exit,
		Tiers:     tiers,
		Scheduler: scheduler,
		Tracker:   tracker,
		Validator: validator,
	})
	if err != nil {
		return nil, nil, err
	}

	provider := buildProvider(cfg, log)

	harness, err := backtest.NewHarness(provider, backtest.Config{
		Symbol:         cfg.Backtest.Symbol,
		Timeframe:      cfg.Backtest.Timeframe,
		Bars:           cfg.Backtest.Bars,
		InitialCapital: cfg.Backtest.InitialCapital,
		FeeRate:        cfg.Backtest.FeeRate,
		StepBudget:     cfg.Backtest.StepBudget,
	})
	if err != nil {
		return nil, nil, err
	}

	backend, err := sandbox.NewHarnessBackend(harness)
	if err != nil {
		return nil, nil, err
	}

	// Isolation here is the wrapper's slot, timeout and budget discipline
	// over the same evaluator; there is no OS-level sandbox.
	var isolated sandbox.Backend
	if sandbox.Mode(cfg.Sandbox.Mode) == sandbox.ModeIsolated {
		isolated = backend
	}

	wrapper, err := sandbox.NewWrapper(sandbox.Config{
		Mode:        sandbox.Mode(cfg.Sandbox.Mode),
		Timeout:     cfg.Sandbox.Timeout,
		MaxParallel: cfg.Sandbox.MaxParallel,
	}, backend, isolated)
	if err != nil {
		return nil, nil, err
	}

	hub := api.NewStreamHub(metrics, logger.Module("api"))

	eng, err := engine.New(engine.Config{
		PopulationSize: cfg.Engine.PopulationSize,
		MaxGenerations: cfg.Engine.MaxGenerations,
		SeedSnippets:   cfg.Engine.SeedSnippets,
	}, engine.Components{
		Operator:    operator,
		Validator:   validator,
		Sandbox:     wrapper,
		Tracker:     tracker,
		Metrics:     metrics,
		Cache:       store,
		History:     history,
		Broadcaster: hub,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, hub, nil
}

// buildProvider selects live exchange data or the deterministic static
// generator. A failed exchange connection falls back to static data so the
// service still comes up.
func buildProvider(cfg *config.Config, log logger.Logger) market.Provider {
	if cfg.Exchange.UseStatic {
		return market.NewStaticProvider(market.StaticConfig{Seed: cfg.Exchange.StaticSeed})
	}

	provider, err := market.NewBanexgProvider(market.BanexgConfig{
		Exchange:  cfg.Exchange.Name,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		TestNet:   cfg.Exchange.TestNet,
	})
	if err != nil {
		log.Warn("exchange unavailable, falling back to static market data", "error", err)
		return market.NewStaticProvider(market.StaticConfig{Seed: cfg.Exchange.StaticSeed})
	}
	return provider
}

// scheduleJobs registers the evolution epoch and the stats snapshot.
func scheduleJobs(cfg *config.Config, eng *engine.Engine, store *cache.Cache, history *database.HistoryRepo, log logger.Logger) (*cron.Cron, error) {
	jobs := cron.New(cron.WithSeconds())

	_, err := jobs.AddFunc(cfg.Cron.EvolutionSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), epochTimeout)
		defer cancel()

		ok, err := store.AcquireLock(ctx, evolutionLock, evolutionLockTTL)
		if err != nil {
			log.Warn("evolution lock unavailable", "error", err)
			return
		}
		if !ok {
			log.Debug("evolution epoch already running elsewhere")
			return
		}
		defer func() {
			if err := store.ReleaseLock(context.Background(), evolutionLock); err != nil {
				log.Warn("failed to release evolution lock", "error", err)
			}
		}()

		if _, err := eng.RunEpoch(ctx); err != nil {
			log.Error("evolution epoch failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = jobs.AddFunc(cfg.Cron.SnapshotSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()

		if err := eng.SnapshotStats(ctx); err != nil {
			log.Warn("stats snapshot failed", "error", err)
		}

		if history != nil {
			cutoff := time.Now().Add(-historyRetention)
			if n, err := history.PruneBefore(ctx, cutoff); err != nil {
				log.Warn("history prune failed", "error", err)
			} else if n > 0 {
				log.Info("pruned old history records", "rows", n)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

func seedAt(base, offset int64) int64 {
	if base == 0 {
		return 0
	}
	return base + offset
}
