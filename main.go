package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/yzh317179958/fiido-customer-service/database"
	"github.com/yzh317179958/fiido-customer-service/internal/jobs"
	"github.com/yzh317179958/fiido-customer-service/internal/routes"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		err := godotenv.Load(".env")
		if err != nil {
			err = godotenv.Load("environments/.env.development")
			if err != nil {
				log.Println("⚠️  No .env file found - checking environment variables")
			}
		}
	}

	// Session store: Redis when configured, in-memory otherwise
	store := storage.Open()

	// Agent roster and tickets: PostgreSQL when configured, in-memory
	// otherwise
	var directory services.AgentDirectory
	var tickets services.TicketStore
	if os.Getenv("USE_MEMORY_DIRECTORY") == "true" || os.Getenv("DB_PASS") == "" {
		log.Println("⚠️  Using in-memory agent directory (not for production!)")
		directory = services.NewMemoryDirectory()
		tickets = services.NewMemoryTicketStore()
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		db, err := database.Connect()
		if err != nil {
			log.Printf("⚠️  Database unavailable (%v) - using in-memory agent directory", err)
			directory = services.NewMemoryDirectory()
			tickets = services.NewMemoryTicketStore()
		} else {
			gd, err := services.NewGormDirectory(db)
			if err != nil {
				log.Fatal("Failed to migrate agent tables:", err)
			}
			ts, err := services.NewGormTicketStore(db)
			if err != nil {
				log.Fatal("Failed to migrate ticket table:", err)
			}
			directory = gd
			tickets = ts
			log.Println("✅ Using PostgreSQL agent directory")
		}
	}

	// AI engine: Coze workflow behind OAuth
	signer, err := services.NewJWTSignerFromEnv()
	if err != nil {
		log.Fatal("Failed to initialize Coze OAuth signer: ", err)
	}
	tokens := services.NewTokenManager(signer)
	engine, err := services.NewCozeClientFromEnv(tokens)
	if err != nil {
		log.Fatal("Failed to initialize Coze client: ", err)
	}
	log.Println("✅ Coze chat engine initialized")

	// Escalation alerts over Twilio SMS, optional
	alerts, err := services.NewAlertServiceFromEnv()
	if err != nil {
		log.Printf("⚠️  Escalation alerts disabled: %v", err)
		alerts = nil
	} else {
		log.Println("✅ Twilio alert service initialized")
	}

	regulator := services.NewRegulator(services.RegulatorConfigFromEnv())
	relay := services.NewRelay()
	orchestrator := services.NewOrchestrator(store, engine, regulator, relay, directory, alerts, tickets)

	// Housekeeping: expiry sweep and wait-timeout alerts
	maintenanceJob := jobs.NewMaintenanceJob(store, alerts, storage.DefaultTTL)
	maintenanceJob.Start()

	log.Println("✅ All services initialized and scheduled jobs started")

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "Fiido Customer Service v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Agent-Id, X-Agent-Name",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	routes.SetupRoutes(app, store, orchestrator, directory)

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping maintenance jobs...")
		maintenanceJob.Stop()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
	}()

	log.Println("========================================")
	log.Printf("🚀 Fiido Customer Service starting on port %s", port)
	log.Println("🔧 Active Services:")
	log.Println("  ✓ AI chat orchestration")
	log.Println("  ✓ Escalation & manual handoff")
	log.Println("  ✓ Agent directory & smart assignment")
	log.Println("  ✓ Scheduled maintenance")
	log.Println("========================================")

	log.Fatal(app.Listen(":" + port))
}
