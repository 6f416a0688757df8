package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/auth"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/cache"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/database"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/engine"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/middleware"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/monitor"
)

// Dependencies carries the wired components the server exposes.
type Dependencies struct {
	Engine  *engine.Engine
	Hub     *StreamHub
	DB      *database.DB
	Cache   *cache.Cache
	Metrics *monitor.Metrics
	Logger  logger.Logger
}

// Handlers holds all HTTP handlers.
type Handlers struct {
	Engine *EngineHandler
	Auth   *AuthHandler
}

// Server represents the API server.
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	engine     *engine.Engine
	hub        *StreamHub
	db         *database.DB
	cache      *cache.Cache
	jwtManager *auth.JWTManager
	metrics    *monitor.Metrics
	log        logger.Logger
	handlers   *Handlers
}

// NewServer creates a new API server over an already wired engine.
// Database and cache are optional; endpoints that need them degrade
// instead of failing at startup.
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	log := deps.Logger
	if log == nil {
		log = logger.Module("api")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if deps.DB == nil {
		log.Warn("database not configured, auth endpoints degraded")
	}
	if deps.Cache == nil {
		log.Warn("cache not configured, health reports cache unavailable")
	}

	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Duration)

	hub := deps.Hub
	if hub == nil {
		hub = NewStreamHub(deps.Metrics, log)
	}

	s := &Server{
		config:     cfg,
		router:     gin.New(),
		engine:     deps.Engine,
		hub:        hub,
		db:         deps.DB,
		cache:      deps.Cache,
		jwtManager: jwtManager,
		metrics:    deps.Metrics,
		log:        log,
		handlers: &Handlers{
			Engine: NewEngineHandler(deps.Engine, log),
			Auth:   NewAuthHandler(jwtManager, deps.DB, log),
		},
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.ErrorHandler())
	s.router.Use(corsMiddleware(s.config.CORS))
	s.router.Use(rateLimitMiddleware(s.config.RateLimit))
	if s.metrics != nil {
		s.router.Use(s.metrics.MetricsMiddleware())
	}

	s.router.GET("/health", s.healthCheck)

	if s.config.App.Env == "development" {
		s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if s.config.Monitoring.PrometheusEnabled {
		s.router.GET(s.config.Monitoring.PrometheusPath, gin.WrapH(monitor.PrometheusHandler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", s.handlers.Auth.Login)
			authGroup.POST("/register", s.handlers.Auth.Register)
		}

		protected := v1.Group("")
		protected.Use(s.jwtManager.AuthMiddleware())
		{
			protected.POST("/mutations", s.handlers.Engine.Mutate)
			protected.POST("/validations", s.handlers.Engine.Validate)
			protected.POST("/executions", s.handlers.Engine.Execute)

			stats := protected.Group("/statistics")
			{
				stats.GET("/tiers", s.handlers.Engine.TierStats)
				stats.GET("/sandbox", s.handlers.Engine.SandboxStats)
			}

			protected.GET("/evolution/status", s.handlers.Engine.EvolutionStatus)
		}
	}

	ws := s.router.Group("/ws")
	{
		ws.GET("/events", s.hub.HandleEvents)
	}
}

// healthCheck godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := gin.H{
		"engine": "ok",
	}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			services["database"] = "error"
		} else {
			services["database"] = "ok"
		}
	} else {
		services["database"] = "unavailable"
	}

	if s.cache != nil {
		if err := s.cache.HealthCheck(ctx); err != nil {
			services["cache"] = "error"
		} else {
			services["cache"] = "ok"
		}
	} else {
		services["cache"] = "unavailable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"time":     time.Now().UTC(),
		"services": services,
	})
}

// Hub returns the websocket hub so the engine can broadcast through it.
func (s *Server) Hub() *StreamHub {
	return s.hub
}

// Start starts the API server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	s.log.Info("starting API server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping API server")

	s.hub.Close()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Error("failed to close cache", "error", err)
		}
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
