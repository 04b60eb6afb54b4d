package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Result  *handler.ResultHandler
	Health  *handler.HealthHandler
	Stream  *handler.StreamHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID and access log apply globally so every response carries metadata.
	router.Use(response.RequestIDMiddleware(log), middleware.RequestLogger())

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Catalogue ──────────────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.NoStore())
	{
		api.GET("/banks", handlers.Session.ListBanks)
		api.GET("/banks/:bank_id/results", handlers.Result.ListByBank)
		api.GET("/stats", handlers.Session.Stats)
		api.POST("/sessions", handlers.Session.CreateSession)
	}

	// ─── 2. Session Commands (Rate Limited per Session) ────────────────
	limiter := middleware.NewRateLimiter(cfg.CommandRate, time.Minute, middleware.BySessionParam)
	sessions := api.Group("/sessions/:id")
	sessions.Use(limiter.Middleware())
	{
		sessions.GET("", handlers.Session.GetSession)
		sessions.DELETE("", handlers.Session.DiscardSession)
		sessions.POST("/start", handlers.Session.StartSession)
		sessions.GET("/question", handlers.Session.CurrentQuestion)
		sessions.PUT("/answers", handlers.Session.RecordAnswer)
		sessions.DELETE("/answers/:question_id", handlers.Session.ClearAnswer)
		sessions.POST("/flags/:question_id", handlers.Session.ToggleFlag)
		sessions.PUT("/cursor", handlers.Session.MoveCursor)
		sessions.POST("/next", handlers.Session.NextQuestion)
		sessions.POST("/previous", handlers.Session.PreviousQuestion)
		sessions.POST("/submit", handlers.Session.SubmitSession)
		sessions.GET("/result", handlers.Session.GetResult)

		if cfg.AllowManualTick {
			sessions.POST("/tick", handlers.Session.Tick)
		}
	}

	// Event feeds are long-lived and bypass the command budget.
	api.GET("/sessions/:id/events", handlers.Stream.SessionEvents)

	// ─── 3. WebSocket ──────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/sessions/:id/stream", handlers.Stream.SessionWebSocket)
	}

	return router
}
