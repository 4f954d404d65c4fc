package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/service"
)

type stubAuthenticator struct {
	user domain.User
	err  error
	seen string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, bearer string) (domain.User, error) {
	s.seen = bearer
	return s.user, s.err
}

func protectedRouter(auth Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", BearerAuthMiddleware(zap.NewNop(), auth), func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || user.ID != "u1" {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func doProtected(r http.Handler, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestBearerAuthMiddleware_AllowsValidAccessToken(t *testing.T) {
	auth := &stubAuthenticator{user: domain.User{ID: "u1"}}
	r := protectedRouter(auth)

	if code := doProtected(r, "Bearer abc.def.ghi"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if auth.seen != "abc.def.ghi" {
		t.Fatalf("expected token passed through, got %q", auth.seen)
	}
	if code := doProtected(r, "bearer abc.def.ghi"); code != http.StatusOK {
		t.Fatalf("expected case-insensitive scheme, got %d", code)
	}
}

func TestBearerAuthMiddleware_RejectsMissingToken(t *testing.T) {
	r := protectedRouter(&stubAuthenticator{user: domain.User{ID: "u1"}})
	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer"} {
		if code := doProtected(r, header); code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %q, got %d", header, code)
		}
	}
}

func TestBearerAuthMiddleware_MapsServiceErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidToken, http.StatusUnauthorized},
		{fmt.Errorf("get secret: %w", domain.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("get secret: %w", domain.ErrInternal), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := protectedRouter(&stubAuthenticator{err: tc.err})
		if code := doProtected(r, "Bearer token"); code != tc.want {
			t.Fatalf("expected %d for %v, got %d", tc.want, tc.err, code)
		}
	}
}

func TestBearerAuthMiddleware_NotConfigured(t *testing.T) {
	r := protectedRouter(nil)
	if code := doProtected(r, "Bearer token"); code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrValidation:   http.StatusBadRequest,
		domain.ErrExpired:      http.StatusBadRequest,
		domain.ErrConflict:     http.StatusConflict,
		domain.ErrUnauthorized: http.StatusUnauthorized,
		domain.ErrForbidden:    http.StatusForbidden,
		domain.ErrNotFound:     http.StatusNotFound,
		domain.ErrUnavailable:  http.StatusServiceUnavailable,
		domain.ErrInternal:     http.StatusInternalServerError,
		fmt.Errorf("boom"):     http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got, _ := statusFor(fmt.Errorf("op: %w", err)); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
