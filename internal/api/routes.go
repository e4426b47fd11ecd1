// Package api provides the HTTP API for the Veridesk server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/api/handlers"
	"github.com/veridesk/veridesk/internal/api/middleware"
	"github.com/veridesk/veridesk/internal/config"
	"github.com/veridesk/veridesk/internal/db"
	"github.com/veridesk/veridesk/internal/events"
	"github.com/veridesk/veridesk/internal/export"
	"github.com/veridesk/veridesk/internal/metrics"
	syncengine "github.com/veridesk/veridesk/internal/sync"
)

// Config holds configuration for the API router.
type Config struct {
	Server config.ServerConfig
	Sync   *config.SyncConfig

	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// Deps carries the wired services the router exposes over HTTP.
type Deps struct {
	DB       *db.DB
	Runner   handlers.SyncRunner
	Catalog  handlers.CatalogHealthChecker
	Feed     *events.Feed
	Exporter *export.Exporter
	Uploader handlers.Uploader // nil when object storage is not configured
	// Gate is the single-flight sync guard shared with the scheduler.
	Gate *syncengine.Gate
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	if cfg.Server.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.Server.CORSOrigins, cfg.Server.Environment))

	rateLimiter, err := middleware.NewRateLimiter(cfg.Server.RateLimit)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health, metrics and version endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Catalog, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	collector := metrics.NewCollector(deps.DB, logger)
	metricsHandler := handlers.NewMetricsHandler(collector, logger)
	metricsHandler.RegisterPublicRoutes(r.Engine)

	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate)
	versionHandler.RegisterPublicRoutes(r.Engine)

	// API v1 routes (API key required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.APIKeyAuth(cfg.Server.APIKey, logger))

	var licenseSink handlers.LicenseEventSink
	var syncSink handlers.SyncEventSink
	var userSink handlers.UserEventSink
	if deps.Feed != nil {
		licenseSink = deps.Feed
		syncSink = deps.Feed
		userSink = deps.Feed
	}

	licensesHandler := handlers.NewLicensesHandler(deps.DB, licenseSink, logger)
	licensesHandler.RegisterRoutes(apiV1)

	syncHandler := handlers.NewSyncHandler(deps.Runner, deps.DB, syncSink, deps.Gate, cfg.Sync, logger)
	syncHandler.RegisterRoutes(apiV1)

	usersHandler := handlers.NewUsersHandler(deps.DB, userSink, logger)
	usersHandler.RegisterRoutes(apiV1)

	if deps.Exporter != nil {
		exportHandler := handlers.NewExportHandler(deps.Exporter, deps.Uploader, logger)
		exportHandler.RegisterRoutes(apiV1)
	}

	if deps.Feed != nil {
		eventsHandler := handlers.NewEventsHandler(deps.Feed, logger)
		eventsHandler.RegisterRoutes(apiV1)
	}

	return r, nil
}
