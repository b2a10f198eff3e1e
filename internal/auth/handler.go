package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/config"
	"github.com/itfiesta/escape-backend/pkg/response"
	"github.com/itfiesta/escape-backend/pkg/utils"
)

// LoginRequest is the body for POST /api/admin/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Handler handles the admin login endpoint. There is no user table:
// the single admin account comes from configuration, with the password
// stored as a bcrypt hash.
type Handler struct {
	cfg    config.AdminConfig
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(cfg config.AdminConfig, jwt *JWTService, logger *zap.Logger) *Handler {
	return &Handler{cfg: cfg, jwt: jwt, logger: logger}
}

// Login handles POST /api/admin/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "username and password are required")
		return
	}

	if h.cfg.PasswordHash == "" {
		response.ServiceUnavailable(c, "admin login is not configured")
		return
	}
	if req.Username != h.cfg.Username || !utils.CheckPassword(req.Password, h.cfg.PasswordHash) {
		h.logger.Warn("admin login rejected", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid username or password")
		return
	}

	token, err := h.jwt.Generate(req.Username, "admin")
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, Role: "admin"})
}
