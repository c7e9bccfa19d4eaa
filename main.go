package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/sunnywifi/ledgerline/backend/src/config"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/handlers"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/security"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"golang.org/x/time/rate"
)

// startStagingSweep expires stale pending batches on a fixed interval until
// ctx is cancelled.
func startStagingSweep(ctx context.Context, staging *services.StagingService) {
	ticker := time.NewTicker(config.Cfg.StagingSweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := staging.ExpireStale(ctx, config.Cfg.StagingExpiryThreshold)
				if err != nil {
					logger.L.Error("Staging sweep failed", "error", err)
					continue
				}
				if expired > 0 {
					logger.L.Info("Staging sweep expired stale items", "count", expired)
				}
			}
		}
	}()
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Ledgerline backend server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	if err := database.RunMigrations(database.DB, config.Cfg.DatabasePath); err != nil {
		stdlog.Fatalf("Failed to run migrations: %v", err)
	}

	summaryCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	authService := security.NewAuthService(config.Cfg.JWTSecret)
	auditLog := services.NewAuditLog(config.Cfg.AuditLogPath)
	llmParser := services.NewLLMParser(config.Cfg, auditLog)
	if llmParser.IsMock() {
		logger.L.Warn("LLM parser running in mock mode, set OPENROUTER_API_KEY for real parsing")
	}
	instructionParser := services.NewInstructionParser(llmParser)
	auditor := services.NewAuditor(database.DB)
	stagingService := services.NewStagingService(database.DB)
	learner := services.NewCategoryLearner()
	batchService := services.NewBatchService(database.DB, learner)

	userHandler := handlers.NewUserHandler(authService)
	recordHandler := handlers.NewRecordHandler(llmParser, instructionParser, auditor, stagingService, batchService, summaryCache)
	expenseHandler := handlers.NewExpenseHandler(summaryCache)
	configHandler := handlers.NewConfigHandler()
	exportHandler := handlers.NewExportHandler()

	limiter := rate.NewLimiter(rate.Every(config.Cfg.RateLimitInterval), config.Cfg.RateLimitBurst)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(handlers.NewCORSMiddleware(config.Cfg.FrontendBaseURL))
	r.Use(handlers.NewRateLimitMiddleware(limiter))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Ledgerline Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", userHandler.RegisterUserHandler)
			r.Post("/auth/login", userHandler.LoginUserHandler)
			r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
			r.With(userHandler.AuthMiddleware).Post("/auth/logout", userHandler.LogoutUserHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(userHandler.AuthMiddleware)

			r.Get("/user/me", userHandler.GetMeHandler)
			r.Post("/user/api-key", userHandler.RegenerateAPIKeyHandler)

			r.Post("/record", recordHandler.SubmitRecordHandler)
			r.Get("/record/batch/{batchID}", recordHandler.GetBatchHandler)
			r.Post("/record/confirm", recordHandler.ConfirmRecordHandler)
			r.Post("/record/interact", recordHandler.InteractRecordHandler)

			r.Get("/expenses", expenseHandler.ListExpensesHandler)
			r.Get("/expenses/summary", expenseHandler.SummaryHandler)
			r.Put("/expenses/{expenseID}", expenseHandler.UpdateExpenseHandler)
			r.Delete("/expenses/{expenseID}", expenseHandler.DeleteExpenseHandler)

			r.Get("/config/categories", configHandler.ListCategoriesHandler)
			r.Post("/config/categories/init", configHandler.InitCategoriesHandler)
			r.Get("/config/payees", configHandler.ListPayeesHandler)
			r.Post("/config/payees", configHandler.AddPayeeHandler)
			r.Delete("/config/payees/{payeeID}", configHandler.DeletePayeeHandler)
			r.Get("/config/assets", configHandler.ListAssetsHandler)
			r.Post("/config/assets", configHandler.AddAssetHandler)
			r.Delete("/config/assets/{assetID}", configHandler.DeleteAssetHandler)

			r.Get("/export/csv", exportHandler.ExportCSVHandler)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
		}
	})

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	startStagingSweep(sweepCtx, stagingService)

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
