package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
	store   storage.SessionStore
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, store storage.SessionStore) *HealthHandler {
	return &HealthHandler{
		Version: version,
		store:   store,
	}
}

// Check returns the health status of the service, including a store probe.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	storeStatus := "ok"
	if _, err := h.store.CountAll(); err != nil {
		storeStatus = "degraded: " + err.Error()
	}
	return c.JSON(fiber.Map{
		"status":  "OK",
		"service": "Fiido Customer Service",
		"version": h.Version,
		"store":   storeStatus,
	})
}
