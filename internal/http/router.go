package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterOptions struct {
	SSLRedirect bool
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	userH *UserHandler,
	healthH *HealthHandler,
	authenticator Authenticator,
	opts RouterOptions,
) *gin.Engine {
	r := gin.New()

	r.Use(
		zapLoggerMiddleware(logger),
		gin.Recovery(),
		secureHeadersMiddleware(opts.SSLRedirect),
		jsonContentTypeMiddleware(),
	)

	r.GET("/healthz", healthH.Healthz)

	requireAuth := BearerAuthMiddleware(logger, authenticator)

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/verify", authH.Verify)
	auth.POST("/verify-email", authH.VerifyEmail)
	auth.POST("/resend-verification", authH.ResendVerification)
	auth.POST("/refresh-token", authH.RefreshToken)
	auth.POST("/forgot-password", authH.ForgotPassword)
	auth.POST("/reset-password", authH.ResetPassword)
	auth.POST("/logout", requireAuth, authH.Logout)
	auth.POST("/change-password", requireAuth, authH.ChangePassword)

	users := r.Group("/users", requireAuth)
	users.GET("/me", userH.Me)
	users.PUT("/me", userH.UpdateMe)

	return r
}
