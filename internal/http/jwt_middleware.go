package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyed-auth/internal/domain"
)

const authUserKey = "auth_user"

// Authenticator resuelve el usuario dueno de un access token.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (domain.User, error)
}

// BearerAuthMiddleware valida el access token con la clave del usuario y
// guarda el usuario en el contexto.
func BearerAuthMiddleware(logger *zap.Logger, auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		token := strings.TrimSpace(header[len("Bearer "):])
		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, logger, "authenticate", err)
			c.Abort()
			return
		}

		c.Set(authUserKey, user)
		c.Next()
	}
}

// CurrentUser obtiene el usuario autenticado desde el contexto.
func CurrentUser(c *gin.Context) (domain.User, bool) {
	val, ok := c.Get(authUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := val.(domain.User)
	return user, ok
}
