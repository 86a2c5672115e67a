package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/artistbot/logostudy-backend/internal/db"
	"github.com/artistbot/logostudy-backend/internal/handlers"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/middleware"
	"github.com/artistbot/logostudy-backend/internal/repos"
	"github.com/artistbot/logostudy-backend/internal/server"
	"github.com/artistbot/logostudy-backend/internal/services"
	"github.com/artistbot/logostudy-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecret := utils.GetEnv("JWT_SECRET", "defaultsecret", log)
	allowedOrigins := utils.GetEnv("ALLOWED_ORIGINS", "", log)
	assignOnIntake := utils.GetEnvAsBool("ASSIGN_CONDITION_ON_INTAKE", false, log)
	maxContextTurns := utils.GetEnvAsInt("CHAT_MAX_CONTEXT_TURNS", 15, log)
	maxResponseTokens := utils.GetEnvAsInt("CHAT_MAX_RESPONSE_TOKENS", 800, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	participantRepo := repos.NewParticipantRepo(thePG, log)
	chatSessionRepo := repos.NewChatSessionRepo(thePG, log)
	conditionCounterRepo := repos.NewConditionCounterRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	balancerService := services.NewBalancerService(thePG, log, conditionCounterRepo)
	if err := balancerService.InitializeCounters(context.Background()); err != nil {
		log.Warn("Could not seed condition counters", "error", err)
	}
	resolverService := services.NewResolverService(thePG, log, participantRepo, balancerService)
	sessionService := services.NewSessionService(thePG, log, chatSessionRepo)
	conversationService := services.NewConversationService(
		thePG,
		log,
		services.ConversationConfig{
			MaxContextTurns:   maxContextTurns,
			MaxResponseTokens: maxResponseTokens,
		},
		resolverService,
		sessionService,
		participantRepo,
		openaiClient,
	)
	sampleFetcher := services.NewQualtricsFetcher(log)
	intakeService := services.NewIntakeService(thePG, log, participantRepo, bucketService, sampleFetcher, balancerService, assignOnIntake)
	logoService := services.NewLogoService(thePG, log, participantRepo, bucketService)

	// Handlers
	log.Info("Setting up handlers from main...")
	chatHandler := handlers.NewChatHandler(log, conversationService)
	webhookHandler := handlers.NewWebhookHandler(log, intakeService)
	participantHandler := handlers.NewParticipantHandler(log, logoService)
	logoHandler := handlers.NewLogoHandler(log, logoService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, jwtSecret)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AllowedOrigins:     allowedOrigins,
		AuthMiddleware:     authMiddleware,
		ChatHandler:        chatHandler,
		WebhookHandler:     webhookHandler,
		ParticipantHandler: participantHandler,
		LogoHandler:        logoHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
