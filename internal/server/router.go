package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/artistbot/logostudy-backend/internal/handlers"
	"github.com/artistbot/logostudy-backend/internal/middleware"
)

type RouterConfig struct {
	AllowedOrigins     string
	AuthMiddleware     *middleware.AuthMiddleware
	ChatHandler        *handlers.ChatHandler
	WebhookHandler     *handlers.WebhookHandler
	ParticipantHandler *handlers.ParticipantHandler
	LogoHandler        *handlers.LogoHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if cfg.AllowedOrigins != "" {
		origins = strings.Split(cfg.AllowedOrigins, ",")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		AllowCredentials: true,
	}))
	router.Use(middleware.RequestID())

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Survey platform only; guarded by the shared bearer token.
		api.POST("/webhook", cfg.AuthMiddleware.RequireWebhookToken(), cfg.WebhookHandler.HandleSubmission)

		// Study frontend.
		api.POST("/greeting", cfg.ChatHandler.Greeting)
		api.POST("/chat", cfg.ChatHandler.Chat)
		api.POST("/chat/reset", cfg.ChatHandler.Reset)
		api.GET("/response/:responseId/images", cfg.ParticipantHandler.ListImages)
		api.POST("/logos/submit", cfg.LogoHandler.Submit)
		api.GET("/logos/:responseId", cfg.LogoHandler.Get)
	}

	return router
}
