package middleware

import (
	"encoding/json"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/errors"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
)

// ErrorHandler 错误处理中间件，恢复panic并返回结构化错误响应
func ErrorHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		var err error

		if recovered != nil {
			// 记录panic堆栈
			logger.Error("Panic recovered",
				"error", recovered,
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			err = errors.NewAppError(
				errors.ErrCodeInternal,
				"Internal server error",
				nil,
			).WithRequestID(getRequestID(c))
		}

		handleError(c, err)
	})
}

// HandleError 处理handler通过c.Error上报的错误
func HandleError(c *gin.Context) {
	c.Next()

	if len(c.Errors) > 0 {
		err := c.Errors.Last().Err
		handleError(c, err)
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var appErr *errors.AppError

	if errors.IsAppError(err) {
		appErr = errors.GetAppError(err)
	} else {
		appErr = errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")
	}

	if appErr.RequestID == "" {
		appErr = appErr.WithRequestID(getRequestID(c))
	}

	logError(c, appErr)

	response := errors.NewErrorResponse(appErr, c.Request.URL.Path)

	c.Header("Content-Type", "application/json")
	c.JSON(appErr.HTTPStatus(), response)
	c.Abort()
}

// logError 按严重程度记录错误日志
func logError(c *gin.Context, err *errors.AppError) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", err.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	}

	if userID, exists := c.Get("user_id"); exists {
		fields = append(fields, "user_id", userID)
	}

	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}

	if len(err.Context) > 0 {
		contextJSON, _ := json.Marshal(err.Context)
		fields = append(fields, "context", string(contextJSON))
	}

	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	switch err.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error("request error", fields...)
	case errors.SeverityMedium:
		logger.Warn("request error", fields...)
	default:
		logger.Info("request error", fields...)
	}
}

// getRequestID 获取请求ID
func getRequestID(c *gin.Context) string {
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}
	if requestID, exists := c.Get("request_id"); exists {
		if rid, ok := requestID.(string); ok {
			return rid
		}
	}
	return ""
}
