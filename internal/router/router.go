package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/handler"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/response"
)

// SetupRouter configures the agent's localhost API. Everything under
// /api/v1 except the unlock endpoint sits behind the kiosk unlock gate.
func SetupRouter(agent *handler.AgentHandler, unlocker *middleware.Unlocker, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// The UI shell is usually served from a file:// or localhost origin;
	// restrict only when explicitly configured.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check (no unlock required — the shell polls this while locked).
	router.GET("/health", agent.Health)

	// ─── 0. Unlock (Public) ────────────────────────────────────────────
	router.POST("/api/v1/unlock", agent.Unlock)

	// ─── 1. Agent API (Unlock Gate) ────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireUnlock(unlocker))
	{
		api.POST("/auth/login", agent.Login)
		api.POST("/auth/logout", agent.Logout)

		api.GET("/exams", agent.ListExams)
		api.GET("/results", agent.ListResults)

		sessionAPI := api.Group("/session")
		{
			sessionAPI.POST("/start", agent.StartSession)
			sessionAPI.GET("/state", agent.GetState)
			sessionAPI.GET("/question", agent.GetQuestion)
			sessionAPI.POST("/answer", agent.Answer)
			sessionAPI.POST("/navigate", agent.Navigate)
			sessionAPI.POST("/visibility", agent.Visibility)
			sessionAPI.POST("/finish", agent.Finish)
		}

		api.GET("/pending", agent.ListPending)
		api.POST("/sync", agent.Sync)
		api.POST("/connectivity", agent.ReportConnectivity)
	}

	// 404 inside the API namespace still gets the envelope.
	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	return router
}
