package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// submitLimiter throttles final submissions per student; nil disables it.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	submitLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
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
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.Health.Health)

	submitChain := []gin.HandlerFunc{}
	if submitLimiter != nil {
		submitChain = append(submitChain, submitLimiter.Middleware())
	}
	submitChain = append(submitChain, handlers.Session.Submit)

	// ─── 1. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/sessions", handlers.Session.ListSessions)

		assessment := studentAPI.Group("/assessments/:type/:assessment_id")
		{
			assessment.POST("/open", handlers.Session.OpenSession)
			assessment.GET("/state", handlers.Session.GetState)
			assessment.PUT("/answers/:question_id", handlers.Session.SaveAnswer)
			assessment.POST("/answers/:question_id/submit", handlers.Session.SubmitQuestion)
			assessment.POST("/navigate", handlers.Session.Navigate)
			assessment.POST("/timer/start", handlers.Session.StartTimer)
			assessment.POST("/timer/pause", handlers.Session.PauseTimer)
			assessment.POST("/submit", submitChain...)
			assessment.DELETE("", handlers.Session.ResetSession)
		}
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/assessments/:type/:assessment_id/stream", handlers.WS.AssessmentStream)
	}

	return router
}
