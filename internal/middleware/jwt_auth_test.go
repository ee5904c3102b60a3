package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, secret string, claims domain.SessionClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifySessionToken(t *testing.T) {
	app := fiber.New()
	app.Get("/me", VerifySessionToken("secret"), func(c *fiber.Ctx) error {
		return c.SendString(GetOwnerID(c))
	})

	valid := signed(t, "secret", domain.SessionClaims{
		OwnerID:          "uid-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	expired := signed(t, "secret", domain.SessionClaims{
		OwnerID:          "uid-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	otherKey := signed(t, "other", domain.SessionClaims{OwnerID: "uid-1"})
	noOwner := signed(t, "secret", domain.SessionClaims{})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + valid, status: fiber.StatusOK},
		{name: "missing", header: "", status: fiber.StatusUnauthorized},
		{name: "no bearer prefix", header: valid, status: fiber.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: fiber.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + otherKey, status: fiber.StatusUnauthorized},
		{name: "no owner", header: "Bearer " + noOwner, status: fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == fiber.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, "uid-1", string(body))
			} else {
				assert.Equal(t, "application/problem+json", resp.Header.Get(fiber.HeaderContentType))
			}
		})
	}
}
