package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
)

type SessionHandler struct {
	orchestrator *services.Orchestrator
}

func NewSessionHandler(orchestrator *services.Orchestrator) *SessionHandler {
	return &SessionHandler{orchestrator: orchestrator}
}

// List returns session summaries, optionally filtered by status.
func (h *SessionHandler) List(c *fiber.Ctx) error {
	status := models.Status(c.Query("status"))
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	sessions, err := h.orchestrator.ListSessions(status, limit, offset)
	if err != nil {
		return fail(c, err)
	}

	summaries := make([]models.Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summarize())
	}
	return c.JSON(fiber.Map{
		"count":    len(summaries),
		"sessions": summaries,
	})
}

// Get returns the full session record.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	s, err := h.orchestrator.GetSession(c.Params("name"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(s)
}

// Delete removes one session.
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	if err := h.orchestrator.DeleteSession(c.Params("name")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"deleted": c.Params("name"),
	})
}

// Clear wipes every session. Destructive, gated behind agent auth.
func (h *SessionHandler) Clear(c *fiber.Ctx) error {
	n, err := h.orchestrator.ClearSessions()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"cleared": n,
	})
}

// Stats reports per-status session counts.
func (h *SessionHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.orchestrator.Stats()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"by_status": stats,
	})
}
