package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/middleware"
	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
)

type AgentHandler struct {
	directory services.AgentDirectory
}

func NewAgentHandler(directory services.AgentDirectory) *AgentHandler {
	return &AgentHandler{directory: directory}
}

// List returns the roster; ?reachable=true filters to agents who can take
// new sessions.
func (h *AgentHandler) List(c *fiber.Ctx) error {
	var (
		agents []*models.Agent
		err    error
	)
	if c.QueryBool("reachable", false) {
		agents, err = h.directory.ListReachable()
	} else {
		agents, err = h.directory.ListAgents()
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"count":  len(agents),
		"agents": agents,
	})
}

// Get returns one agent.
func (h *AgentHandler) Get(c *fiber.Ctx) error {
	a, err := h.directory.GetAgent(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(a)
}

// Upsert registers or updates an agent record.
func (h *AgentHandler) Upsert(c *fiber.Ctx) error {
	var a models.Agent
	if err := c.BodyParser(&a); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if a.ID == "" || a.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id and name are required",
		})
	}
	if a.Status == "" {
		a.Status = models.AgentOffline
	}
	if err := h.directory.UpsertAgent(&a); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// UpdateStatus flips an agent's presence.
func (h *AgentHandler) UpdateStatus(c *fiber.Ctx) error {
	var req struct {
		Status models.AgentStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	switch req.Status {
	case models.AgentOnline, models.AgentBusy, models.AgentBreak, models.AgentOffline:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown status",
		})
	}

	if err := h.directory.UpdateStatus(c.Params("id"), req.Status); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"id":     c.Params("id"),
		"status": req.Status,
	})
}

// Login mints a console token for a registered agent and marks them online.
func (h *AgentHandler) Login(c *fiber.Ctx) error {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.AgentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "agent_id is required",
		})
	}

	a, err := h.directory.GetAgent(req.AgentID)
	if err != nil {
		return fail(c, err)
	}

	token, err := middleware.IssueAgentToken(a.ID, a.Name, 12*time.Hour)
	if err != nil {
		return fail(c, err)
	}
	if err := h.directory.UpdateStatus(a.ID, models.AgentOnline); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"token":      token,
		"agent_id":   a.ID,
		"agent_name": a.Name,
		"expires_in": int((12 * time.Hour).Seconds()),
	})
}
