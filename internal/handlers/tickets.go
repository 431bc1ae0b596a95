package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/middleware"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
)

type TicketHandler struct {
	tickets services.TicketStore
}

func NewTicketHandler(tickets services.TicketStore) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// ListOpen returns unresolved follow-up tickets, newest first.
func (h *TicketHandler) ListOpen(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	tickets, err := h.tickets.ListOpen(limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"count":   len(tickets),
		"tickets": tickets,
	})
}

// Get returns a single ticket.
func (h *TicketHandler) Get(c *fiber.Ctx) error {
	t, err := h.tickets.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return fail(c, err)
	}
	return c.JSON(t)
}

// Resolve closes a ticket with a resolution note, attributed to the
// authenticated agent.
func (h *TicketHandler) Resolve(c *fiber.Ctx) error {
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	agentID, _ := middleware.AgentFromLocals(c)
	if err := h.tickets.Resolve(c.Params("id"), agentID, req.Resolution); err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ticket_id": c.Params("id"),
		"status":    "resolved",
	})
}
