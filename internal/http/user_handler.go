package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyed-auth/internal/service"
)

// UserHandler expone el perfil del usuario autenticado.
type UserHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

func NewUserHandler(logger *zap.Logger, auth *service.AuthService) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{logger: logger, auth: auth}
}

type profileResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin"`
}

type updatedProfileResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type updateProfileRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
}

// Me maneja GET /users/me.
func (h *UserHandler) Me(c *gin.Context) {
	current, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.auth.Profile(c.Request.Context(), current.ID)
	if err != nil {
		writeError(c, h.logger, "get profile", err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Status:    string(user.Status),
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLogin,
	})
}

// UpdateMe maneja PUT /users/me.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	current, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, "update profile", err)
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), current.ID, req.Username)
	if err != nil {
		writeError(c, h.logger, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, updatedProfileResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		UpdatedAt: user.UpdatedAt,
	})
}
