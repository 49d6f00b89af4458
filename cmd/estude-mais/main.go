package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/estudemais/estude-mais/internal/ai"
	"github.com/estudemais/estude-mais/internal/persist"
	"github.com/estudemais/estude-mais/internal/session"
	"github.com/estudemais/estude-mais/internal/storage"
	"github.com/estudemais/estude-mais/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var (
		meta  storage.MetadataStore
		blobs storage.BlobStore
	)
	switch cfg.Storage.Backend {
	case "memory":
		logger.Info("Using in-memory storage")
		meta = storage.NewMemoryMetadataStore(cfg.Storage.QuotaBytes)
		blobs = storage.NewMemoryBlobStore()
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		pg, err := storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		defer pg.Close()
		meta = pg.Metadata()
		blobs = pg.Blobs()
	default:
		logger.Info("Using file storage", zap.String("dir", cfg.Storage.DataDir))
		meta, err = storage.NewFileMetadataStore(filepath.Join(cfg.Storage.DataDir, "metadata"), cfg.Storage.QuotaBytes)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		blobs, err = storage.NewFileBlobStore(filepath.Join(cfg.Storage.DataDir, "blobs"))
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer meta.Close()
	defer blobs.Close()

	ctx := context.Background()

	// The UI records the logged-in profile; without one there is no
	// session to open.
	user, ok, err := persist.LoadCurrentUser(ctx, meta)
	if err != nil {
		logger.Fatal("Failed to load current user", zap.Error(err))
	}
	if !ok {
		logger.Info("No user logged in; nothing to load")
		return
	}

	// Initialize the AI gateway with the persisted credential as fallback
	gateway := ai.NewGeminiClient(
		cfg.Gemini.APIKey,
		func() string { return persist.LoadAPIKey(ctx, meta) },
		cfg.Gemini.Model,
		logger,
	)

	coord := persist.NewCoordinator(meta, blobs, user.Email, cfg.Persistence.Debounce, logger)
	sess := session.New(user, coord, gateway, logger)
	if err := sess.Load(ctx); err != nil {
		logger.Fatal("Failed to load session", zap.Error(err))
	}

	// Run until interrupted; the UI drives the session from here.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sess.Flush(ctx)
	logger.Info("Shut down")
}
