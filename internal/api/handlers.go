package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/auth"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/database"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/engine"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/errors"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
)

// EngineHandler exposes the mutation engine over HTTP.
type EngineHandler struct {
	engine *engine.Engine
	log    logger.Logger
}

// NewEngineHandler creates an engine handler.
func NewEngineHandler(eng *engine.Engine, log logger.Logger) *EngineHandler {
	if log == nil {
		log = logger.Module("api")
	}
	return &EngineHandler{engine: eng, log: log}
}

// Mutate godoc
// @Summary Mutate a strategy snippet
// @Description Screens the snippet and applies one mutation step
// @Tags mutations
// @Accept json
// @Produce json
// @Param request body MutateRequest true "Mutation request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /mutations [post]
func (h *EngineHandler) Mutate(c *gin.Context) {
	var req MutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	out, err := h.engine.Mutate(c.Request.Context(), engine.MutationRequest{
		Code:       req.Code,
		Generation: req.Generation,
		Mode:       req.Mode,
		Parameter:  req.Parameter,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    out,
	})
}

// Validate godoc
// @Summary Screen a strategy snippet
// @Description Runs the security screen without mutating or executing
// @Tags validations
// @Accept json
// @Produce json
// @Param request body ValidateRequest true "Validation request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Security BearerAuth
// @Router /validations [post]
func (h *EngineHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	result := h.engine.Validate(req.Code)
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// Execute godoc
// @Summary Execute a strategy snippet in the sandbox
// @Description Screens the snippet, backtests it and reports metrics
// @Tags executions
// @Accept json
// @Produce json
// @Param request body ExecuteRequest true "Execution request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Failure 500 {object} Response
// @Security BearerAuth
// @Router /executions [post]
func (h *EngineHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	out, err := h.engine.Execute(c.Request.Context(), engine.ExecutionRequest{
		Code:       req.Code,
		Generation: req.Generation,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    out,
	})
}

// TierStats godoc
// @Summary Per-tier mutation statistics
// @Tags statistics
// @Produce json
// @Success 200 {object} Response
// @Security BearerAuth
// @Router /statistics/tiers [get]
func (h *EngineHandler) TierStats(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.engine.TierStats(),
	})
}

// SandboxStats godoc
// @Summary Sandbox execution statistics
// @Tags statistics
// @Produce json
// @Success 200 {object} Response
// @Security BearerAuth
// @Router /statistics/sandbox [get]
func (h *EngineHandler) SandboxStats(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.engine.SandboxStats(),
	})
}

// EvolutionStatus godoc
// @Summary Evolution loop status
// @Tags evolution
// @Produce json
// @Success 200 {object} Response
// @Security BearerAuth
// @Router /evolution/status [get]
func (h *EngineHandler) EvolutionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.engine.Status(),
	})
}

// respondError maps application errors onto HTTP status codes.
func (h *EngineHandler) respondError(c *gin.Context, err error) {
	if appErr := errors.GetAppError(err); appErr != nil {
		c.JSON(appErr.HTTPStatus(), Response{
			Success: false,
			Error:   appErr.Message,
			Message: appErr.Details,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// AuthHandler handles login and registration.
type AuthHandler struct {
	jwtManager *auth.JWTManager
	db         *database.DB
	log        logger.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(jwtManager *auth.JWTManager, db *database.DB, log logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.Module("api")
	}
	return &AuthHandler{jwtManager: jwtManager, db: db, log: log}
}

// Login godoc
// @Summary Authenticate a user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "User store unavailable",
		})
		return
	}

	ctx := c.Request.Context()
	user, err := h.db.GetUserByUsername(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   "Invalid credentials",
		})
		return
	}

	if err := database.ValidatePassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   "Invalid credentials",
		})
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID.String(), user.Username, user.Role)
	if err != nil {
		h.log.Error("failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to generate token",
		})
		return
	}

	if err := h.db.UpdateUserLastLogin(ctx, user.ID); err != nil {
		h.log.Warn("failed to update last login", "error", err)
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: AuthResponse{
			AccessToken: token,
			ExpiresAt:   time.Now().Add(h.jwtManager.TokenTTL()),
			UserID:      user.ID.String(),
			Username:    user.Username,
			Role:        user.Role,
		},
	})
}

// Register godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "New user"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "User store unavailable",
		})
		return
	}

	ctx := c.Request.Context()
	exists, err := h.db.CheckUserExists(ctx, req.Username, req.Email)
	if err != nil {
		h.log.Error("failed to check user existence", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to register user",
		})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   "Username or email already taken",
		})
		return
	}

	user, err := h.db.CreateUser(ctx, req.Username, req.Email, req.Password, "user")
	if err != nil {
		h.log.Error("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to register user",
		})
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID.String(), user.Username, user.Role)
	if err != nil {
		h.log.Error("failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: "User registered successfully",
		Data: AuthResponse{
			AccessToken: token,
			ExpiresAt:   time.Now().Add(h.jwtManager.TokenTTL()),
			UserID:      user.ID.String(),
			Username:    user.Username,
			Role:        user.Role,
		},
	})
}
