package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/middleware"
	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
)

type ManualHandler struct {
	orchestrator *services.Orchestrator
}

func NewManualHandler(orchestrator *services.Orchestrator) *ManualHandler {
	return &ManualHandler{orchestrator: orchestrator}
}

// Escalate puts a session into the human queue on explicit request, from
// either the user UI or an agent console.
func (h *ManualHandler) Escalate(c *fiber.Ctx) error {
	var req struct {
		SessionName string `json:"session_name"`
		Reason      string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	s, err := h.orchestrator.Escalate(req.SessionName, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"session_name": s.SessionName,
		"status":       s.Status,
		"escalation":   s.Escalation,
		"priority":     s.Priority,
	})
}

// Takeover claims a session for the authenticated agent. Exactly one
// concurrent claim wins, the rest get a 409.
func (h *ManualHandler) Takeover(c *fiber.Ctx) error {
	var req struct {
		SessionName string `json:"session_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	agentID, agentName := middleware.AgentFromLocals(c)
	if agentID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "agent identity is required",
		})
	}

	s, err := h.orchestrator.Takeover(req.SessionName, agentID, agentName)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"session_name":   s.SessionName,
		"status":         s.Status,
		"assigned_agent": s.AssignedAgent,
	})
}

// PostMessage appends an agent (or system) message to a manual session and
// relays it to the user's open stream.
func (h *ManualHandler) PostMessage(c *fiber.Ctx) error {
	var req struct {
		SessionName string `json:"session_name"`
		Content     string `json:"content"`
		Role        string `json:"role,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	role := models.RoleAgent
	if req.Role != "" {
		role = models.Role(req.Role)
	}
	var agent *models.AgentRef
	if id, name := middleware.AgentFromLocals(c); id != "" {
		agent = &models.AgentRef{ID: id, Name: name}
	}

	s, err := h.orchestrator.PostManualMessage(req.SessionName, role, req.Content, agent)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"session_name": s.SessionName,
		"status":       s.Status,
		"message":      s.LastMessage(),
	})
}

// Release hands a live manual session back to the assistant.
func (h *ManualHandler) Release(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	// Body is optional here.
	_ = c.BodyParser(&req)

	agentID, _ := middleware.AgentFromLocals(c)
	s, err := h.orchestrator.Release(c.Params("name"), agentID, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"session_name": s.SessionName,
		"status":       s.Status,
	})
}

// Queue lists waiting sessions, most urgent first, with freshly computed
// priorities.
func (h *ManualHandler) Queue(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	sessions, err := h.orchestrator.ListPendingQueue(limit, offset)
	if err != nil {
		return fail(c, err)
	}

	items := make([]fiber.Map, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, fiber.Map{
			"session_name": s.SessionName,
			"user_profile": s.Profile,
			"escalation":   s.Escalation,
			"priority":     s.Priority,
			"last_message": s.LastMessage(),
			"updated_at":   s.UpdatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"count":    len(items),
		"sessions": items,
	})
}

// SuggestAgent returns the best available agent for a waiting session.
func (h *ManualHandler) SuggestAgent(c *fiber.Ctx) error {
	decision, err := h.orchestrator.SuggestAgent(c.Params("name"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(decision)
}
