package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sweetseek/internal/adapters/embedding"
	"sweetseek/internal/adapters/extractor"
	"sweetseek/internal/adapters/filewatcher"
	"sweetseek/internal/adapters/llm"
	"sweetseek/internal/adapters/loader"
	"sweetseek/internal/catalog"
	"sweetseek/internal/config"
	"sweetseek/internal/conversation"
	"sweetseek/internal/domain/usecases"
	httpserver "sweetseek/internal/infrastructure/http"
	"sweetseek/internal/index"
	"sweetseek/internal/lifecycle"
	"sweetseek/internal/tracker"
	"sweetseek/internal/upload"
)

var (
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "sweetseek",
		Short: "Document-grounded QA service for sweetness-science literature",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(indexCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
}

func indexCmd() *cobra.Command {
	var rebuildTracking bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Detect and ingest new corpus files, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(rebuildTracking)
		},
	}
	cmd.Flags().BoolVar(&rebuildTracking, "rebuild-tracking", false,
		"resynchronize the tracking file with the data directory without reindexing")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	app, cfg, err := buildApp()
	if err != nil {
		return err
	}
	defer app.conversations.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.manager.LoadOrCreate(ctx); err != nil {
		// The server still comes up; POST /api/init can retry.
		logger.Error("startup initialization failed", "error", err)
	}

	if cfg.Watcher.Enabled {
		updater, err := filewatcher.NewAutoUpdater(
			time.Duration(cfg.Watcher.DebounceSecs)*time.Second,
			func(ctx context.Context) {
				count, err := app.manager.UpdateFromDataDir(ctx)
				if err != nil {
					logger.Error("auto update failed", "error", err)
					return
				}
				if count > 0 {
					logger.Info("auto update ingested files", "count", count)
				}
			},
			logger,
		)
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer updater.Stop()
		if err := updater.Watch(ctx, cfg.Storage.DataDir); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
	}

	server := httpserver.NewServer(httpserver.Config{
		Manager:              app.manager,
		Filter:               app.filter,
		Composer:             app.composer,
		Uploader:             app.uploader,
		Conversations:        app.conversations,
		Extractor:            app.extractor,
		Logger:               logger,
		Addr:                 cfg.Server.Addr,
		DefaultThreshold:     cfg.Retrieval.SimilarityThreshold,
		DefaultMaxCandidates: cfg.Retrieval.MaxCandidates,
	})
	return server.Start(ctx)
}

func runIndex(rebuildTracking bool) error {
	app, cfg, err := buildApp()
	if err != nil {
		return err
	}
	defer app.conversations.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rebuildTracking {
		if err := app.tracker.RebuildTracking(cfg.Storage.DataDir); err != nil {
			return fmt.Errorf("rebuilding tracking: %w", err)
		}
		logger.Info("tracking resynchronized", "files", app.tracker.Count())
		return nil
	}

	count, err := app.manager.UpdateFromDataDir(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		logger.Info("no new files to index")
		return nil
	}
	logger.Info("indexing complete", "new_files", count)
	return nil
}

// app holds the wired components shared by the serve and index
// commands.
type app struct {
	tracker       *tracker.Tracker
	manager       *lifecycle.Manager
	filter        *usecases.RetrievalFilter
	composer      *usecases.AnswerComposer
	uploader      *upload.Uploader
	conversations *conversation.Store
	extractor     *extractor.ServiceExtractor
}

func buildApp() (*app, *config.Config, error) {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Storage.StorageDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating storage directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	track := tracker.New(cfg.TrackingFile(), logger)
	cat := catalog.New(cfg.CatalogFile(), logger)

	conversations, err := conversation.NewStore(cfg.ConversationsDB(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening conversation store: %w", err)
	}

	extract := extractor.NewServiceExtractor(cfg.Extractor.ServiceURL)
	docLoader := loader.NewMultiLoader(extract)
	embedder := embedding.NewOllamaAdapter(cfg.Embedding.BaseURL, cfg.Embedding.Model, logger)
	generator := llm.NewDeepSeekAdapter(cfg.LLM.BaseURL, cfg.APIKey(), cfg.LLM.Model, logger)

	manager := lifecycle.NewManager(lifecycle.Config{
		Tracker:              track,
		Catalog:              cat,
		Extractor:            extract,
		Loader:               docLoader,
		Embedder:             embedder,
		Chunker:              index.NewChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap),
		Logger:               logger,
		DataDir:              cfg.Storage.DataDir,
		PersistDir:           cfg.SnapshotDir(),
		IncrementalThreshold: cfg.Index.IncrementalThreshold,
	})

	filter := usecases.NewRetrievalFilter(manager, cat, logger)
	composer := usecases.NewAnswerComposer(generator, conversations, logger)

	uploader, err := upload.New(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("preparing upload directories: %w", err)
	}

	return &app{
		tracker:       track,
		manager:       manager,
		filter:        filter,
		composer:      composer,
		uploader:      uploader,
		conversations: conversations,
		extractor:     extract,
	}, cfg, nil
}
