package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/service"
	"github.com/mansoorceksport/fitsync/internal/session"
	"github.com/moogar0880/problems"
	log "github.com/sirupsen/logrus"
)

// ValidationProblem is a 422 problem document listing every field violation
type ValidationProblem struct {
	*problems.Problem
	Errors domain.ValidationErrors `json:"errors"`
}

// RetryableProblem marks failures the client may resubmit unchanged
type RetryableProblem struct {
	*problems.Problem
	Retryable bool `json:"retryable"`
}

// writeProblem renders a problem document with the RFC 7807 media type
func writeProblem(c *fiber.Ctx, code int, problem any) error {
	return c.Status(code).JSON(problem, problems.ProblemMediaType)
}

func newProblem(c *fiber.Ctx, code int, typ, detail string) *problems.Problem {
	return problems.NewStatusProblem(code).
		WithInstance(c.Path()).
		WithType(typ).
		WithDetail(detail)
}

// badRequest reports malformed input that never reached the store
func badRequest(c *fiber.Ctx, detail string) error {
	return writeProblem(c, fiber.StatusBadRequest, newProblem(c, fiber.StatusBadRequest, "bad-request", detail))
}

// respondError maps domain and service errors to problem documents
func respondError(c *fiber.Ctx, err error) error {
	var (
		verrs    domain.ValidationErrors
		conflict *domain.ConflictError
		remote   *domain.RemoteWriteError
		sub      *domain.SubscriptionError
		enc      *domain.EncodingError
	)

	switch {
	case errors.As(err, &verrs):
		return writeProblem(c, fiber.StatusUnprocessableEntity, &ValidationProblem{
			Problem: newProblem(c, fiber.StatusUnprocessableEntity, "validation-failed", "the workout has invalid fields"),
			Errors:  verrs,
		})
	case errors.As(err, &conflict):
		return writeProblem(c, fiber.StatusConflict, newProblem(c, fiber.StatusConflict, "mutation-in-flight", conflict.Error()))
	case errors.Is(err, domain.ErrWorkoutNotFound), errors.Is(err, domain.ErrRowNotFound):
		return writeProblem(c, fiber.StatusNotFound, newProblem(c, fiber.StatusNotFound, "not-found", err.Error()))
	case errors.As(err, &remote):
		// A remote update of a record deleted elsewhere is still retryable once the
		// snapshot catches up, so it stays a 502
		log.WithError(err).WithField("op", remote.Op).Warn("remote write rejected")
		return writeProblem(c, fiber.StatusBadGateway, &RetryableProblem{
			Problem:   newProblem(c, fiber.StatusBadGateway, "remote-write-failed", err.Error()),
			Retryable: remote.Retryable(),
		})
	case errors.Is(err, domain.ErrUnknownField):
		return badRequest(c, err.Error())
	case errors.As(err, &enc):
		return writeProblem(c, fiber.StatusUnprocessableEntity, newProblem(c, fiber.StatusUnprocessableEntity, "encoding-failed", err.Error()))
	case errors.As(err, &sub),
		errors.Is(err, domain.ErrStoreClosed),
		errors.Is(err, session.ErrManagerClosed):
		return writeProblem(c, fiber.StatusServiceUnavailable, &RetryableProblem{
			Problem:   newProblem(c, fiber.StatusServiceUnavailable, "sync-unavailable", err.Error()),
			Retryable: true,
		})
	case errors.Is(err, service.ErrAssistantDisabled), errors.Is(err, service.ErrExportDisabled):
		return writeProblem(c, fiber.StatusServiceUnavailable, newProblem(c, fiber.StatusServiceUnavailable, "feature-disabled", err.Error()))
	case errors.Is(err, service.ErrInvalidIDToken):
		return writeProblem(c, fiber.StatusUnauthorized, newProblem(c, fiber.StatusUnauthorized, "unauthorized", err.Error()))
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return writeProblem(c, fe.Code, newProblem(c, fe.Code, "http-error", fe.Message))
	}

	log.WithError(err).WithField("path", c.Path()).Error("unhandled request error")
	return writeProblem(c, fiber.StatusInternalServerError,
		newProblem(c, fiber.StatusInternalServerError, "internal-error", "an unexpected error occurred"))
}

// ErrorHandler is the Fiber error handler; everything leaves as a problem document
func ErrorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err)
}
