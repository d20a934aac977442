package main

import (
	"context"

	"github.com/Nijaek/analytics-dashboard/internal/buffer"
	"github.com/Nijaek/analytics-dashboard/internal/handlers"
	"github.com/Nijaek/analytics-dashboard/internal/ingest"
	"github.com/Nijaek/analytics-dashboard/internal/live"
	appmw "github.com/Nijaek/analytics-dashboard/internal/middleware"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/query"
	"github.com/Nijaek/analytics-dashboard/internal/session"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/config"
	"github.com/Nijaek/analytics-dashboard/pkg/database"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/monitoring"
	"github.com/Nijaek/analytics-dashboard/pkg/redis"
	"github.com/Nijaek/analytics-dashboard/pkg/server"
	"github.com/Nijaek/analytics-dashboard/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("analytics-api")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Analytics API")

	secretKey := config.RequireEnv("SECRET_KEY")
	databaseURL := config.RequireEnv("DATABASE_URL")
	redisURL := config.RequireEnv("REDIS_URL")

	// Connect to Postgres
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	ctx := context.Background()
	if err := database.EnsureSchema(ctx, db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Connect to Redis (durable buffer, session artifacts, live fan-out)
	redisClient, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("analytics-api", version.Version)
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"SECRET_KEY":   secretKey,
		"DATABASE_URL": databaseURL,
		"REDIS_URL":    redisURL,
	}))

	metricsCollector := monitoring.NewMetricsCollector("analytics-api", version.Version, version.GitCommit)

	// Create custom pipeline metrics
	ingestMetrics := &ingest.Metrics{}
	ingestMetrics.Accepted, ingestMetrics.BufferOps, ingestMetrics.BatchSize = metricsCollector.CreateIngestMetrics()

	liveMetrics := &live.Metrics{}
	liveMetrics.Connections, liveMetrics.Messages = metricsCollector.CreateLiveMetrics()

	// Domain wiring
	st := store.New(db, logger)
	sessions := session.New(redisClient, logger)
	buf := buffer.New(redisClient, logger)
	coordinator := ingest.NewCoordinator(buf, st, logger, secretKey, ingestMetrics)
	engine := query.NewEngine(st, logger)

	pubsub := redis.NewTypedPubSub[models.LiveEvent](redisClient, logger)
	hub := live.NewHub(live.RedisSubscriber(pubsub, logger), logger, liveMetrics)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	// Initialize handlers
	authConfig := handlers.AuthConfig{
		Secret:        []byte(secretKey),
		AccessTTL:     config.GetEnvDuration("ACCESS_TOKEN_TTL", auth.DefaultAccessTTL),
		RefreshTTL:    config.GetEnvDuration("REFRESH_TOKEN_TTL", auth.DefaultRefreshTTL),
		SecureCookies: config.GetEnvBool("SECURE_COOKIES", false),
	}
	authHandler := handlers.NewAuthHandler(st, sessions, logger, authConfig)
	userHandler := handlers.NewUserHandler(st, sessions, logger, authHandler.ClearAuthCookies)
	projectHandler := handlers.NewProjectHandler(st, coordinator, logger)
	eventHandler := handlers.NewEventHandler(coordinator, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(st, engine, logger)
	socketHandler := handlers.NewSocketHandler(sessions, st, hub, logger)

	rateLimiter := appmw.NewRateLimiter(logger)
	defer rateLimiter.Stop()

	requireUser := appmw.RequireUser([]byte(secretKey), sessions, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "analytics-api", healthChecker, metricsCollector)

	// Auth endpoints
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", appmw.RateLimit(rateLimiter, "register", appmw.RegisterPerMinute), authHandler.Register)
		authGroup.POST("/login", appmw.RateLimit(rateLimiter, "login", appmw.LoginPerMinute), authHandler.Login)
		authGroup.POST("/refresh", appmw.RateLimit(rateLimiter, "refresh", appmw.RefreshPerMinute), authHandler.Refresh)

		// Protected auth endpoints (require a live access token)
		authProtected := authGroup.Group("", requireUser)
		authProtected.POST("/logout", appmw.RateLimit(rateLimiter, "logout", appmw.LogoutPerMinute), authHandler.Logout)
		authProtected.POST("/ws-ticket", appmw.RateLimit(rateLimiter, "ws-ticket", appmw.DefaultPerMinute), authHandler.WSTicket)
		authProtected.GET("/me", appmw.RateLimit(rateLimiter, "me", appmw.DefaultPerMinute), authHandler.Me)
	}

	// Self-service account endpoints
	usersGroup := router.Group("/users", appmw.RateLimit(rateLimiter, "users", appmw.DefaultPerMinute), requireUser)
	{
		usersGroup.PATCH("/me", userHandler.UpdateProfile)
		usersGroup.POST("/me/password", userHandler.ChangePassword)
	}

	// Project management
	projectsGroup := router.Group("/projects", appmw.RateLimit(rateLimiter, "projects", appmw.DefaultPerMinute), requireUser)
	{
		projectsGroup.POST("", projectHandler.Create)
		projectsGroup.GET("", projectHandler.List)
		projectsGroup.GET("/:id", projectHandler.Get)
		projectsGroup.PATCH("/:id", projectHandler.Update)
		projectsGroup.DELETE("/:id", projectHandler.Delete)
		projectsGroup.POST("/:id/rotate-key", projectHandler.RotateKey)
	}

	// Ingest endpoint, authenticated by project key
	eventsGroup := router.Group("/events", appmw.RateLimit(rateLimiter, "ingest", appmw.DefaultPerMinute), appmw.RequireProjectKey(coordinator))
	{
		eventsGroup.POST("/ingest", eventHandler.Ingest)
	}

	// Analytics queries, owner-scoped
	analyticsGroup := router.Group("/analytics", appmw.RateLimit(rateLimiter, "analytics", appmw.DefaultPerMinute), requireUser)
	{
		analyticsGroup.GET("/:id/overview", analyticsHandler.Overview)
		analyticsGroup.GET("/:id/timeseries", analyticsHandler.Timeseries)
		analyticsGroup.GET("/:id/top-events", analyticsHandler.TopEvents)
		analyticsGroup.GET("/:id/sessions", analyticsHandler.Sessions)
		analyticsGroup.GET("/:id/users", analyticsHandler.Users)
	}

	// Live socket; authenticated by single-use ticket, not by JWT
	router.GET("/ws/events/:id", socketHandler.Serve)

	// Start server with standard graceful shutdown handling
	serverConfig := server.DefaultConfig("analytics-api", "8080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}
