package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/vidfetch/internal/api"
	"github.com/iconidentify/vidfetch/internal/api/handler"
	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/counter"
	"github.com/iconidentify/vidfetch/internal/downloader"
	"github.com/iconidentify/vidfetch/internal/extractor"
	"github.com/iconidentify/vidfetch/internal/service"
	"github.com/iconidentify/vidfetch/internal/worker"
	"github.com/iconidentify/vidfetch/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vidfetch-server %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting vidfetch",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Extractor.Verbose {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	if err := os.MkdirAll(cfg.Storage.TempPath, 0755); err != nil {
		logger.Error("failed to create temp directory", "error", err)
		os.Exit(1)
	}

	// Extraction engine
	ytdlp := extractor.NewYTDLP(cfg.Extractor, logger)
	if cfg.Extractor.AutoInstall {
		installCtx, cancelInstall := context.WithTimeout(context.Background(), 5*time.Minute)
		err := ytdlp.Install(installCtx)
		cancelInstall()
		if err != nil {
			logger.Error("failed to install yt-dlp", "error", err)
			os.Exit(1)
		}
	}

	// Counter store
	store, err := counter.Open(context.Background(), cfg.Counter, logger)
	if err != nil {
		logger.Error("failed to open counter store", "driver", cfg.Counter.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize services
	downloadSvc := service.NewDownloadService(ytdlp, cfg.Storage, cfg.Extractor, logger)
	metadataSvc := service.NewMetadataService(ytdlp, logger)
	if cfg.Artwork.Enabled {
		downloadSvc.SetArtworkFetcher(downloader.NewHTTPDownloader(cfg.Artwork, logger))
	}

	// Worker pool and temp janitor
	pool := worker.NewPool(worker.Config{
		Workers:   cfg.Worker.Count,
		QueueSize: cfg.Worker.QueueSize,
	}, logger)
	pool.Start()

	janitor := worker.NewJanitor(downloadSvc, cfg.Worker.SweepInterval, cfg.Worker.MaxArtifactAge, logger)
	janitor.Start()

	// Initialize handlers
	mediaHandler := handler.NewMediaHandler(downloadSvc, metadataSvc, pool, store, handler.MediaOptions{
		FormatsLimit:  cfg.Server.FormatsLimit,
		AutoIncrement: cfg.Counter.AutoIncrement,
	}, logger)
	statsHandler := handler.NewStatsHandler(store, logger)
	healthHandler := handler.NewHealthHandler(store, pool, cfg.Storage.TempPath)
	healthHandler.SetToolChecker(toolChecker(cfg.Extractor.FFmpegPath, logger))

	// Setup router
	router := api.NewRouter(mediaHandler, statsHandler, healthHandler, cfg, logger)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr, "counter", cfg.Counter.Driver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers (allow in-flight jobs to complete)
	if err := pool.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}
	janitor.Stop()

	logger.Info("shutdown complete")
}

// toolChecker resolves ffmpeg for readiness. A missing binary is logged at
// startup and keeps /ready failing until it is installed.
func toolChecker(location string, logger *slog.Logger) handler.ToolChecker {
	tools, err := ffmpeg.Locate(location)
	if err != nil {
		logger.Warn("ffmpeg not found; merges and audio extraction will fail", "error", err)
		return handler.ToolCheckFunc(func(ctx context.Context) error {
			tools, err := ffmpeg.Locate(location)
			if err != nil {
				return err
			}
			return tools.Check(ctx)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if version, err := tools.Version(ctx); err == nil {
		logger.Info("ffmpeg found", "path", tools.FFmpegPath, "version", version)
	}
	return tools
}
