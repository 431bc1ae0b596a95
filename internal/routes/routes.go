package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yzh317179958/fiido-customer-service/internal/handlers"
	"github.com/yzh317179958/fiido-customer-service/internal/middleware"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, store storage.SessionStore, orchestrator *services.Orchestrator, directory services.AgentDirectory) {
	chatHandler := handlers.NewChatHandler(orchestrator, store)
	manualHandler := handlers.NewManualHandler(orchestrator)
	sessionHandler := handlers.NewSessionHandler(orchestrator)
	agentHandler := handlers.NewAgentHandler(directory)
	ticketHandler := handlers.NewTicketHandler(orchestrator.Tickets())
	healthHandler := handlers.NewHealthHandler("1.0.0", store)

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to Fiido Customer Service!",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health":   "/health",
				"chat":     "/api/chat",
				"stream":   "/api/chat/stream",
				"manual":   "/api/manual",
				"sessions": "/api/sessions",
				"agents":   "/api/agents",
			},
		})
	})

	app.Get("/health", healthHandler.Check)

	api := app.Group("/api")

	// User-facing chat
	api.Post("/chat", chatHandler.Chat)
	api.Post("/chat/stream", chatHandler.ChatStream)

	// Escalation can come from the user UI, no agent token required
	api.Post("/manual/escalate", manualHandler.Escalate)

	// Agent console, behind agent auth
	manual := api.Group("/manual", middleware.AgentAuth())
	manual.Get("/queue", manualHandler.Queue)
	manual.Post("/takeover", manualHandler.Takeover)
	manual.Post("/messages", manualHandler.PostMessage)

	sessions := api.Group("/sessions")
	sessions.Get("/", sessionHandler.List)
	sessions.Get("/stats", sessionHandler.Stats)
	sessions.Get("/:name", sessionHandler.Get)
	sessions.Get("/:name/suggest-agent", middleware.AgentAuth(), manualHandler.SuggestAgent)
	sessions.Post("/:name/release", middleware.AgentAuth(), manualHandler.Release)
	sessions.Delete("/:name", middleware.AgentAuth(), sessionHandler.Delete)
	sessions.Delete("/", middleware.AgentAuth(), sessionHandler.Clear)

	tickets := api.Group("/tickets", middleware.AgentAuth())
	tickets.Get("/", ticketHandler.ListOpen)
	tickets.Get("/:id", ticketHandler.Get)
	tickets.Post("/:id/resolve", ticketHandler.Resolve)

	agents := api.Group("/agents")
	agents.Post("/login", agentHandler.Login)
	agents.Get("/", middleware.AgentAuth(), agentHandler.List)
	agents.Get("/:id", middleware.AgentAuth(), agentHandler.Get)
	agents.Post("/", middleware.AgentAuth(), agentHandler.Upsert)
	agents.Patch("/:id/status", middleware.AgentAuth(), agentHandler.UpdateStatus)
}
