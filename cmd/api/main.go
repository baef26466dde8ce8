package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartexam/paperingest/internal/api"
	"github.com/smartexam/paperingest/internal/api/middleware"
	"github.com/smartexam/paperingest/internal/config"
	"github.com/smartexam/paperingest/internal/extractor"
	"github.com/smartexam/paperingest/internal/logger"
	"github.com/smartexam/paperingest/internal/qbank"
	"github.com/smartexam/paperingest/internal/repository"
	"github.com/smartexam/paperingest/internal/service"
	"github.com/smartexam/paperingest/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		LogFile:     cfg.Log.File,
		ServiceName: "paperingest-api",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(db)
	itemRepo := repository.NewItemRepository(db)

	// Initialize storage (supports MinIO, R2, S3)
	documentStore, err := storage.NewStore(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize document storage")
	}

	ctx := context.Background()
	if s3Store, ok := documentStore.(*storage.S3Store); ok {
		if err := s3Store.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	// Initialize external clients
	extractorClient := extractor.NewClient(&extractor.Config{
		BaseURL:       cfg.Extractor.BaseURL,
		APIKey:        cfg.Extractor.APIKey,
		SubmitTimeout: cfg.Extractor.SubmitTimeout,
		Policy: extractor.RetryPolicy{
			MaxAttempts: cfg.Extractor.MaxAttempts,
			BaseDelay:   cfg.Extractor.BaseDelay,
			Multiplier:  cfg.Extractor.Multiplier,
		},
	})
	qbankClient := qbank.NewClient(&qbank.Config{
		BaseURL: cfg.QuestionBank.BaseURL,
		APIKey:  cfg.QuestionBank.APIKey,
		Timeout: cfg.QuestionBank.Timeout,
	})

	// Initialize services
	ingestService := service.NewIngestService(db, sessionRepo, itemRepo, extractorClient, documentStore, nil)
	reviewService := service.NewReviewService(db, sessionRepo, itemRepo, qbankClient)
	queryService := service.NewQueryService(sessionRepo, itemRepo)

	// Setup router
	router := api.SetupRouter(db, ingestService, reviewService, queryService, appLogger, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Let in-flight extraction tasks settle before exit
	ingestService.Wait()

	appLogger.Info("Server exited")
}
