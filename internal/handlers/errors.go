package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/services"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// statusFor maps service errors onto HTTP codes. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, services.ErrAgentNotFound), errors.Is(err, services.ErrNoAgentAvailable):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrSessionInManual),
		errors.Is(err, services.ErrAlreadyClaimed),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrAgentReplyNotAllowed):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrUpstreamChat):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// fail writes the uniform error envelope.
func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}
