package api

import "time"

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// MutateRequest represents a mutation request
type MutateRequest struct {
	Code       string `json:"code" binding:"required"`
	Generation int    `json:"generation"`
	Mode       string `json:"mode"`      // auto, exit, tier
	Parameter  string `json:"parameter"` // force one exit parameter
}

// ValidateRequest represents a security screen request
type ValidateRequest struct {
	Code string `json:"code" binding:"required"`
}

// ExecuteRequest represents a sandboxed execution request
type ExecuteRequest struct {
	Code       string `json:"code" binding:"required"`
	Generation int    `json:"generation"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"required,email"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
}
