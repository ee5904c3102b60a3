package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/moogar0880/problems"
)

// Context keys for storing session info
const (
	OwnerIDKey = "ownerID"
	EmailKey   = "email"
)

// VerifySessionToken validates the bearer session token and stores its owner in the context
func VerifySessionToken(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "missing authorization token")
		}
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			return unauthorized(c, "invalid authorization header format, expected 'Bearer <token>'")
		}

		claims := &domain.SessionClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "invalid signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c, "invalid or expired token")
		}
		if claims.OwnerID == "" {
			return unauthorized(c, "token has no owner")
		}

		c.Locals(OwnerIDKey, claims.OwnerID)
		c.Locals(EmailKey, claims.Email)
		return c.Next()
	}
}

// GetOwnerID extracts the owner from the Fiber context
// Should only be called after VerifySessionToken
func GetOwnerID(c *fiber.Ctx) string {
	ownerID, ok := c.Locals(OwnerIDKey).(string)
	if !ok {
		return ""
	}
	return ownerID
}

func unauthorized(c *fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem, problems.ProblemMediaType)
}
