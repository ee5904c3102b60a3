package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/service"
	"github.com/mansoorceksport/fitsync/internal/session"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
	sessions    *session.Manager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
	}
}

type signInRequest struct {
	IDToken string `json:"id_token"`
}

// SignIn handles POST /v1/auth/session. The Firebase ID token comes from the
// Authorization header or, failing that, the id_token body field.
func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	idToken, _ := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if idToken == "" && len(c.Body()) > 0 {
		var req signInRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		idToken = req.IDToken
	}
	if idToken == "" {
		return writeProblem(c, fiber.StatusUnauthorized,
			newProblem(c, fiber.StatusUnauthorized, "unauthorized", "missing firebase id token"))
	}

	sess, err := h.authService.SignIn(c.UserContext(), idToken)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

// SignOut handles DELETE /v1/auth/session and drops the caller's live subscription
func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	h.sessions.Release(middleware.GetOwnerID(c))
	return c.SendStatus(fiber.StatusNoContent)
}
