package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	apihttp "github.com/elie222/inbox-zero-sub011/adapter/in/http"
	"github.com/elie222/inbox-zero-sub011/config"
	"github.com/elie222/inbox-zero-sub011/infra/middleware"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// NewAPI builds the HTTP surface: webhook ingress, job submission and
// the tracker read API, all sharing the dependency graph with the
// worker.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "inbox-engine-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Webhook payloads are small; anything larger is not ours.
		BodyLimit: 1 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(middleware.ServiceAuth(cfg.APISecret))

	// Health check (no auth required)
	healthHandler := apihttp.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// Webhook ingress (no auth required, called by Google and Microsoft)
	webhookHandler := apihttp.NewWebhookHandler(
		deps.Accounts,
		deps.Providers,
		deps.Queue,
		cfg.MicrosoftClientState,
		logger.Default(),
	)
	webhookHandler.Register(app)

	// Service API (shared secret or service JWT)
	api := app.Group("/v1")

	jobsHandler := apihttp.NewJobsHandler(deps.Queue)
	jobsHandler.Register(api)

	trackerHandler := apihttp.NewTrackerHandler(deps.TrackerService)
	trackerHandler.Register(api)

	logger.Info("API server initialized")

	return app, cleanup, nil
}
