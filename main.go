package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	api "replypilot-backend/cmd/api"
	"replypilot-backend/internal/automation"
	"replypilot-backend/internal/credential"
	emaildomain "replypilot-backend/internal/email/domain"
	emailRepo "replypilot-backend/internal/email/repository"
	knowledgedomain "replypilot-backend/internal/knowledge/domain"
	knowledgeRepo "replypilot-backend/internal/knowledge/repository"
	knowledgeUsecase "replypilot-backend/internal/knowledge/usecase"
	"replypilot-backend/internal/queue"
	userdomain "replypilot-backend/internal/user/domain"
	userRepo "replypilot-backend/internal/user/repository"
	"replypilot-backend/pkg/chroma"
	"replypilot-backend/pkg/config"
	"replypilot-backend/pkg/database"
	"replypilot-backend/pkg/gemini"
	"replypilot-backend/pkg/gmail"
	"replypilot-backend/pkg/sheets"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&userdomain.User{}, &emaildomain.Email{}, &knowledgedomain.KnowledgeItem{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis and the two pipeline queues
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	inboxQueue := queue.New(rdb, queue.InboxCheckQueue, cfg.QueueLease, cfg.QueueMaxAttempts)
	processQueue := queue.New(rdb, queue.MessageProcessQueue, cfg.QueueLease, cfg.QueueMaxAttempts)
	inboxQueue.StartReaper(cfg.QueueLease / 2)
	processQueue.StartReaper(cfg.QueueLease / 2)

	// Initialize repositories (dependency injection)
	users := userRepo.NewUserRepository(db)
	emails := emailRepo.NewEmailRepository(db)
	knowledgeItems := knowledgeRepo.NewKnowledgeRepository(db)

	// Initialize external services
	gmailService := gmail.NewService()
	sheetsService := sheets.NewService()
	geminiService := gemini.NewGeminiService(cfg.GeminiApiKey)

	chromaClient, err := chroma.NewChromaClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Chroma client:", err)
	}

	// Credential store for per-user Google OAuth tokens
	oauthConfig := credential.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret)
	credStore := credential.NewStore(users, oauthConfig, cfg.MaxRefreshFailures)

	// Knowledge engine (retrieval-augmented summarization and replies)
	engine := knowledgeUsecase.NewEngine(knowledgeItems, chromaClient, geminiService, cfg.RetrievalTopK)

	// Automation service, scheduler and the two worker pools
	service := automation.NewService(users, emails, credStore, gmailService, engine, processQueue, cfg.MaxMessagesPerScan, cfg.UnreadWindowMinutes)
	scheduler := automation.NewScheduler(users, inboxQueue, cfg.SchedulerInterval)
	inboxWorker := automation.NewInboxWorker(service, inboxQueue, cfg.InboxWorkers)
	processWorker := automation.NewProcessWorker(users, emails, credStore, gmailService, engine, sheetsService, processQueue, cfg.ProcessWorkers)

	scheduler.Start()
	inboxWorker.Start()
	processWorker.Start()

	// Stop pipeline components on shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down pipeline...")
		scheduler.Stop()
		inboxWorker.Stop()
		processWorker.Stop()
		inboxQueue.Stop()
		processQueue.Stop()
		os.Exit(0)
	}()

	// Initialize HTTP handler
	handler := api.NewHandler(service, engine, users, map[string]api.QueueInspector{
		queue.InboxCheckQueue:     inboxQueue,
		queue.MessageProcessQueue: processQueue,
	}, cfg)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
