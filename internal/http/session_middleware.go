package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ferchox920/sessiond/internal/domain"
	"github.com/ferchox920/sessiond/internal/service"
)

const authIdentityKey = "auth_identity"
const sessionIDKey = "session_id"

// SessionAuthMiddleware resuelve el id de sesion del header Authorization y
// guarda la identidad validada en el contexto. Toda falla colapsa en 401.
func SessionAuthMiddleware(manager *service.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session manager not configured"})
			c.Abort()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			c.Abort()
			return
		}

		sessionID := strings.TrimSpace(header[len("Bearer "):])
		identity, err := manager.ValidateSessionToken(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session validation unavailable"})
			c.Abort()
			return
		}
		if identity == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			c.Abort()
			return
		}

		c.Set(authIdentityKey, *identity)
		c.Set(sessionIDKey, sessionID)
		c.Next()
	}
}

// GetAuthIdentity obtiene la identidad validada desde el contexto.
func GetAuthIdentity(c *gin.Context) (domain.UserIdentity, bool) {
	val, ok := c.Get(authIdentityKey)
	if !ok {
		return domain.UserIdentity{}, false
	}
	identity, ok := val.(domain.UserIdentity)
	return identity, ok
}

// GetSessionID obtiene el id de sesion ya validado desde el contexto.
func GetSessionID(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}
