package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"keyed-auth/internal/domain"
)

// statusFor traduce los errores de dominio a codigo HTTP y mensaje publico.
// El mensaje nunca incluye detalle interno.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrExpired):
		return http.StatusBadRequest, "token expired"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, msg := statusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(op+" failed", zap.Error(err))
	case status == http.StatusUnauthorized:
		logger.Debug(op+" rejected", zap.Error(err))
	default:
		logger.Info(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

// writeBindError responde 400 con los campos que no pasaron la validacion.
func writeBindError(c *gin.Context, logger *zap.Logger, op string, err error) {
	logger.Warn("invalid "+op+" request", zap.Error(err))
	body := gin.H{"error": "invalid request"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[lowerFirst(fe.Field())] = ruleMessage(fe)
		}
		body["fields"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
