package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ferchox920/sessiond/internal/service"
)

// SessionHandler mantiene dependencias para los endpoints de sesion.
type SessionHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
	manager  *service.SessionManager
	tokens   *service.TokenService
	limiter  service.LoginRateLimiter
}

// NewSessionHandler crea una instancia de SessionHandler con sus dependencias.
func NewSessionHandler(
	logger *zap.Logger,
	userServ *service.UserService,
	manager *service.SessionManager,
	tokens *service.TokenService,
	limiter service.LoginRateLimiter,
) *SessionHandler {
	return &SessionHandler{
		logger:   logger,
		userServ: userServ,
		manager:  manager,
		tokens:   tokens,
		limiter:  limiter,
	}
}

// Login maneja POST /auth/login.
func (h *SessionHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(req.Email) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		return
	}

	user, err := h.userServ.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		case errors.Is(err, service.ErrUserSuspended):
			c.JSON(http.StatusForbidden, gin.H{"error": "account suspended"})
			return
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not log in"})
			return
		}
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	sessionID, err := h.manager.CreateSession(c.Request.Context(), user, token, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// Me maneja GET /session/me.
func (h *SessionHandler) Me(c *gin.Context) {
	identity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity})
}

// Logout maneja POST /session/logout.
func (h *SessionHandler) Logout(c *gin.Context) {
	sessionID, ok := GetSessionID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	if err := h.manager.InvalidateSession(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not log out"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// LogoutAll maneja POST /session/logout-all.
func (h *SessionHandler) LogoutAll(c *gin.Context) {
	identity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	if err := h.manager.InvalidateAllUserSessions(c.Request.Context(), identity.ID); err != nil {
		h.logger.Error("logout all failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not log out"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out_everywhere"})
}

// Refresh maneja POST /session/refresh.
func (h *SessionHandler) Refresh(c *gin.Context) {
	sessionID, ok := GetSessionID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	refreshed, err := h.manager.RefreshSession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not refresh session"})
		return
	}
	if !refreshed {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// ListSessions maneja GET /session/list.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	identity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	sessions, err := h.manager.GetUserSessions(c.Request.Context(), identity.ID)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
