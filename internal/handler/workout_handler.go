package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/service"
	"github.com/mansoorceksport/fitsync/internal/session"
	"github.com/mansoorceksport/fitsync/internal/store"
	"github.com/mansoorceksport/fitsync/internal/telemetry"
	"github.com/mansoorceksport/fitsync/internal/view"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// StaleHeader is set when a read is served from the last snapshot of a failed feed
const StaleHeader = "X-Sync-Stale"

const defaultWaitTimeout = 10 * time.Second

// WorkoutHandler serves the signed-in owner's workout history, its draft form and
// history exports
type WorkoutHandler struct {
	sessions    *session.Manager
	exports     *service.ExportService
	waitTimeout time.Duration
}

func NewWorkoutHandler(sessions *session.Manager, exports *service.ExportService) *WorkoutHandler {
	return &WorkoutHandler{
		sessions:    sessions,
		exports:     exports,
		waitTimeout: defaultWaitTimeout,
	}
}

// MutationResponse describes an accepted create, update or delete
type MutationResponse struct {
	Op            string `json:"op"`
	Status        string `json:"status"` // pending or applied
	CorrelationID string `json:"correlation_id,omitempty"`
	RemoteID      string `json:"remote_id,omitempty"`
	Version       uint64 `json:"version"`
}

// session acquires the caller's live session
func (h *WorkoutHandler) session(c *fiber.Ctx) (*session.Session, error) {
	ownerID := middleware.GetOwnerID(c)
	telemetry.SetOwner(c, ownerID)
	return h.sessions.Acquire(c.UserContext(), ownerID)
}

// readSession is session for reads: when the feed cannot be re-established the last
// snapshot is served and flagged stale
func (h *WorkoutHandler) readSession(c *fiber.Ctx) (*session.Session, error) {
	sess, err := h.session(c)
	if err == nil {
		return sess, nil
	}
	var subErr *domain.SubscriptionError
	if errors.As(err, &subErr) {
		if stale, ok := h.sessions.Lookup(middleware.GetOwnerID(c)); ok {
			c.Set(StaleHeader, "true")
			telemetry.AddSpanEvent(c, "sync.stale_read", attribute.String("error", subErr.Error()))
			return stale, nil
		}
	}
	return nil, err
}

func parseFilter(c *fiber.Ctx) (view.Filter, error) {
	f, err := view.ParseFilter(query(c, "filter"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return f, nil
}

// ListWorkouts handles GET /v1/me/workouts?filter=
func (h *WorkoutHandler) ListWorkouts(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.View(f))
}

// GetStats handles GET /v1/me/workouts/stats?filter=
func (h *WorkoutHandler) GetStats(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	res := sess.View(f)
	return c.JSON(fiber.Map{
		"version": res.Version,
		"filter":  res.Filter,
		"stats":   res.Stats,
	})
}

// CreateWorkout handles POST /v1/me/workouts
func (h *WorkoutHandler) CreateWorkout(c *fiber.Ctx) error {
	var req workoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	m, err := sess.Store.SubmitCreate(c.UserContext(), req.candidate())
	if err != nil {
		return err
	}
	return h.respondMutation(c, sess, m)
}

// UpdateWorkout handles PUT /v1/me/workouts/:id
func (h *WorkoutHandler) UpdateWorkout(c *fiber.Ctx) error {
	var req workoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	m, err := sess.Store.SubmitUpdate(c.UserContext(), param(c, "id"), req.candidate())
	if err != nil {
		return err
	}
	return h.respondMutation(c, sess, m)
}

// DeleteWorkout handles DELETE /v1/me/workouts/:id
func (h *WorkoutHandler) DeleteWorkout(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	m, err := sess.Store.SubmitDelete(c.UserContext(), param(c, "id"))
	if err != nil {
		return err
	}
	return h.respondMutation(c, sess, m)
}

// respondMutation answers 202 with the optimistic state, or with ?wait=true blocks
// until the remote store answered
func (h *WorkoutHandler) respondMutation(c *fiber.Ctx, sess *session.Session, m *store.Mutation) error {
	resp := MutationResponse{
		Op:            m.Op(),
		Status:        "pending",
		CorrelationID: m.CorrelationID(),
		RemoteID:      m.RemoteID(),
		Version:       sess.Store.Version(),
	}
	if !c.QueryBool("wait") {
		return c.Status(fiber.StatusAccepted).JSON(resp)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.waitTimeout)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Still in flight; the outcome will show up in the next read
			telemetry.AddSpanEvent(c, "mutation.wait_timeout", attribute.String("op", m.Op()))
			return c.Status(fiber.StatusAccepted).JSON(resp)
		}
		var rwe *domain.RemoteWriteError
		if errors.As(err, &rwe) {
			telemetry.AddSpanEvent(c, "mutation.rolled_back",
				attribute.String("op", m.Op()),
				attribute.String("correlation_id", m.CorrelationID()),
			)
		}
		return err
	}

	resp.Status = "applied"
	resp.RemoteID = m.RemoteID()
	resp.Version = sess.Store.Version()
	code := fiber.StatusOK
	if m.Op() == "create" {
		code = fiber.StatusCreated
	}
	return c.Status(code).JSON(resp)
}

// ExportHistory handles POST /v1/me/workouts/export?filter=
func (h *WorkoutHandler) ExportHistory(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	obj, err := h.exports.Export(c.UserContext(), sess.OwnerID, sess.View(f))
	if err != nil {
		if !errors.Is(err, service.ErrExportDisabled) {
			log.WithError(err).WithField("owner", sess.OwnerID).Error("history export failed")
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(obj)
}

// ListExports handles GET /v1/me/workouts/exports
func (h *WorkoutHandler) ListExports(c *fiber.Ctx) error {
	list, err := h.exports.List(c.UserContext(), middleware.GetOwnerID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"exports": list})
}

// GetDraft handles GET /v1/me/draft
func (h *WorkoutHandler) GetDraft(c *fiber.Ctx) error {
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.Draft.Draft())
}

// NewDraft handles POST /v1/me/draft/new
func (h *WorkoutHandler) NewDraft(c *fiber.Ctx) error {
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.Draft.StartNew())
}

// EditDraft handles POST /v1/me/draft/edit/:id
func (h *WorkoutHandler) EditDraft(c *fiber.Ctx) error {
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	w, ok := sess.Store.Lookup(param(c, "id"))
	if !ok {
		return domain.ErrWorkoutNotFound
	}
	return c.JSON(sess.Draft.StartEdit(w))
}

// TemplateDraft handles POST /v1/me/draft/template/:id
func (h *WorkoutHandler) TemplateDraft(c *fiber.Ctx) error {
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	w, ok := sess.Store.Lookup(param(c, "id"))
	if !ok {
		return domain.ErrWorkoutNotFound
	}
	return c.JSON(sess.Draft.StartFromTemplate(w))
}

// UpdateDraft handles PATCH /v1/me/draft with a {"field": value} body
func (h *WorkoutHandler) UpdateDraft(c *fiber.Ctx) error {
	var req fieldsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	if err := sess.Draft.SetFields(req.values()); err != nil {
		return err
	}
	return c.JSON(sess.Draft.Draft())
}

// AddExerciseRow handles POST /v1/me/draft/exercises
func (h *WorkoutHandler) AddExerciseRow(c *fiber.Ctx) error {
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	key := sess.Draft.AddExerciseRow()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"local_key": key,
		"draft":     sess.Draft.Draft(),
	})
}

// UpdateExerciseRow handles PATCH /v1/me/draft/exercises/:key
func (h *WorkoutHandler) UpdateExerciseRow(c *fiber.Ctx) error {
	var req fieldsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	if err := sess.Draft.UpdateExerciseRowFields(param(c, "key"), req.values()); err != nil {
		return err
	}
	return c.JSON(sess.Draft.Draft())
}

// RemoveExerciseRow handles DELETE /v1/me/draft/exercises/:key
func (h *WorkoutHandler) RemoveExerciseRow(c *fiber.Ctx) error {
	sess, err := h.readSession(c)
	if err != nil {
		return err
	}
	if err := sess.Draft.RemoveExerciseRow(param(c, "key")); err != nil {
		return err
	}
	return c.JSON(sess.Draft.Draft())
}

// SubmitDraft handles POST /v1/me/draft/submit
func (h *WorkoutHandler) SubmitDraft(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	m, err := sess.Draft.Submit(c.UserContext())
	if err != nil {
		return err
	}
	return h.respondMutation(c, sess, m)
}
