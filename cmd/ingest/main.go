package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/smartexam/paperingest/internal/config"
	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/extractor"
	"github.com/smartexam/paperingest/internal/logger"
	"github.com/smartexam/paperingest/internal/repository"
	"github.com/smartexam/paperingest/internal/service"
	"github.com/smartexam/paperingest/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "paperingest-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	filePath := flag.String("file", "", "Path to the source document to ingest")
	name := flag.String("name", "", "Session name (defaults to the file name)")
	subject := flag.String("subject", "", "Subject hint passed to the extraction engine")
	wait := flag.Bool("wait", false, "Block until extraction finishes")
	timeout := flag.Duration("timeout", 10*time.Minute, "Maximum time to wait for extraction")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *filePath == "" {
		appLogger.Fatal("Usage: ingest -file <document> [-name <session name>] [-wait]")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read document")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	sessionRepo := repository.NewSessionRepository(db)
	itemRepo := repository.NewItemRepository(db)

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

	engine := extractor.NewClient(&extractor.Config{
		BaseURL:       cfg.Extractor.BaseURL,
		APIKey:        cfg.Extractor.APIKey,
		SubmitTimeout: cfg.Extractor.SubmitTimeout,
		Policy: extractor.RetryPolicy{
			MaxAttempts: cfg.Extractor.MaxAttempts,
			BaseDelay:   cfg.Extractor.BaseDelay,
			Multiplier:  cfg.Extractor.Multiplier,
		},
	})

	ingestService := service.NewIngestService(db, sessionRepo, itemRepo, engine, documentStore, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	session, err := ingestService.Submit(ctx, &service.SubmitRequest{
		Name:     *name,
		FileName: filepath.Base(*filePath),
		Data:     data,
		Subject:  *subject,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to submit document")
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldSessionID: session.ID,
		"status":              session.Status,
	}).Info("Session created")

	if !*wait {
		// The extraction task runs in this process; without -wait it would
		// die with us, so hand off cleanly before exiting.
		ingestService.Wait()
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			appLogger.Fatal("Timed out waiting for extraction to finish")
		case <-ticker.C:
			current, err := ingestService.GetSession(ctx, session.ID)
			if err != nil {
				appLogger.WithError(err).Fatal("Failed to poll session")
			}
			switch current.Status {
			case domain.SessionStatusAwaitingReview:
				appLogger.WithFields(logger.Fields{
					logger.FieldSessionID: current.ID,
					logger.FieldCount:     current.TotalItems,
				}).Info("Extraction finished; session is awaiting review")
				return
			case domain.SessionStatusFailed:
				appLogger.WithField("reason", current.FailureReason).Fatal("Extraction failed")
			}
		}
	}
}
