package api

import (
	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/api/handlers"
	"github.com/TheGojiOG/mcpanel/internal/api/middleware"
	"github.com/TheGojiOG/mcpanel/internal/auth"
	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/metrics"
	"github.com/TheGojiOG/mcpanel/internal/websocket"
)

// Services are optional features. Their routes are only registered when set.
type Services struct {
	Backups *backup.Manager
	Metrics *metrics.Collector
}

// SetupRouter configures and returns the HTTP router. The hub must be running
// for log streams to be served.
func SetupRouter(
	cfg *config.Config,
	ctl *control.Controller,
	jwtManager *auth.JWTManager,
	hub *websocket.Hub,
	services Services,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.API.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	authHandler := handlers.NewAuthHandler(cfg.API.Users, jwtManager)
	serverHandler := handlers.NewServerHandler(ctl)
	logsHandler := handlers.NewLogsHandler(ctl, hub, cfg.API.AllowedOrigins)

	// Public routes
	public := router.Group("/api/v1")
	{
		public.POST("/auth/login", middleware.RateLimit(cfg.API.LoginRateLimit), authHandler.Login)
	}

	// Protected routes
	protected := router.Group("/api/v1")
	protected.Use(middleware.Auth(jwtManager))
	protected.Use(middleware.Audit(ctl.Activity()))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		servers := protected.Group("/servers")
		{
			servers.GET("", middleware.RequirePermission(auth.PermServersList), serverHandler.ListServers)
			servers.GET("/:name", middleware.RequirePermission(auth.PermServersGet), serverHandler.GetServer)
			servers.GET("/:name/stats", middleware.RequirePermission(auth.PermServersGet), serverHandler.GetStats)
			servers.GET("/:name/activity", middleware.RequirePermission(auth.PermActivityRead), serverHandler.GetServerActivity)
			servers.GET("/:name/schedules", middleware.RequirePermission(auth.PermActivityRead), serverHandler.GetScheduleRuns)

			servers.POST("/:name/start", middleware.RequirePermission(auth.PermServersControl), serverHandler.StartServer)
			servers.POST("/:name/stop", middleware.RequirePermission(auth.PermServersControl), serverHandler.StopServer)
			servers.POST("/:name/restart", middleware.RequirePermission(auth.PermServersControl), serverHandler.RestartServer)
			servers.POST("/:name/rcon", middleware.RequirePermission(auth.PermServersRCON), serverHandler.ExecuteCommand)

			if services.Metrics != nil {
				metricsHandler := handlers.NewMetricsHandler(ctl, services.Metrics)
				servers.GET("/:name/metrics", middleware.RequirePermission(auth.PermServersGet), metricsHandler.GetMetrics)
			}
			if services.Backups != nil {
				backupHandler := handlers.NewBackupHandler(ctl, services.Backups, cfg.Backup.Retention)
				servers.GET("/:name/backups", middleware.RequirePermission(auth.PermBackupsList), backupHandler.ListBackups)
				servers.POST("/:name/backups", middleware.RequirePermission(auth.PermBackupsCreate), backupHandler.CreateBackup)
				servers.POST("/:name/backups/:id/restore", middleware.RequirePermission(auth.PermBackupsRestore), backupHandler.RestoreBackup)
				servers.DELETE("/:name/backups/:id", middleware.RequirePermission(auth.PermBackupsDelete), backupHandler.DeleteBackup)
			}
		}
	}

	// WebSocket routes take the token from the query string
	stream := router.Group("/ws")
	stream.Use(middleware.Auth(jwtManager))
	{
		stream.GET("/servers/:name/logs", middleware.RequirePermission(auth.PermLogsStream), logsHandler.StreamLogs)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
