package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/service"
	log "github.com/sirupsen/logrus"
)

// AssistantHandler relays chat turns to the training assistant
type AssistantHandler struct {
	assistant *service.Assistant
}

func NewAssistantHandler(assistant *service.Assistant) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

type chatRequest struct {
	Messages []service.ChatMessage `json:"messages" validate:"required,min=1,dive"`
}

// Chat handles POST /v1/me/assistant/chat
func (h *AssistantHandler) Chat(c *fiber.Ctx) error {
	var req chatRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}

	reply, err := h.assistant.Reply(c.UserContext(), req.Messages)
	if err != nil {
		if errors.Is(err, service.ErrAssistantDisabled) {
			return err
		}
		log.WithError(err).WithField("owner", middleware.GetOwnerID(c)).Warn("assistant request failed")
		return fiber.NewError(fiber.StatusBadGateway, "assistant is unavailable, try again later")
	}
	return c.JSON(fiber.Map{
		"message": service.ChatMessage{Role: "assistant", Content: reply},
	})
}
