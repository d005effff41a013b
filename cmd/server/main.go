package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Mentra-Community/recorder-service/internal/audio"
	"github.com/Mentra-Community/recorder-service/internal/config"
	"github.com/Mentra-Community/recorder-service/internal/metrics"
	"github.com/Mentra-Community/recorder-service/internal/realtime"
	"github.com/Mentra-Community/recorder-service/internal/recording"
	"github.com/Mentra-Community/recorder-service/internal/server"
	"github.com/Mentra-Community/recorder-service/internal/session"
	"github.com/Mentra-Community/recorder-service/internal/storage"
	"github.com/Mentra-Community/recorder-service/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "recorder-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// A .env file is optional; the environment wins either way
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.Address),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("flush_threshold_kib", cfg.Audio.FlushThresholdKiB),
		slog.Bool("require_device", cfg.Session.RequireDevice),
		slog.String("locale", cfg.Session.Locale),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("Failed to open recording store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recording store ready", slog.String("driver", cfg.Database.Driver))

	sink, err := buildSink(cfg.Storage)
	if err != nil {
		logger.Error("Failed to initialize storage sink", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Storage sink ready", slog.String("backend", cfg.Storage.Backend))

	hub := realtime.NewHub(logger, cfg.Realtime.GetKeepAliveInterval(), cfg.Realtime.ClientBuffer)
	hub.SetHooks(appMetrics.RecordRealtimeEvent, appMetrics.AddRealtimeClients)

	registry := session.NewRegistry()
	lifecycle := recording.NewLifecycle(logger, st, sink, hub, registry, appMetrics, recording.Config{
		Assembler: audio.AssemblerConfig{
			SampleRate:       cfg.Audio.SampleRate,
			FlushThreshold:   cfg.Audio.FlushThresholdBytes(),
			MaxPendingChunks: cfg.Audio.MaxPendingChunks,
		},
		RequireDevice: cfg.Session.RequireDevice,
	})
	binder := session.NewBinder(logger, lifecycle, registry, appMetrics, cfg.Session.Locale)

	httpServer := server.New(logger, cfg.Server, lifecycle, hub, binder, appMetrics)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrors:
		logger.Error("HTTP server failed", slog.String("error", err.Error()))
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Finalize in-flight recordings so no audio is stranded mid-upload
	lifecycle.StopAll(shutdownCtx)
	hub.Stop()

	logger.Info("Service stopped")
}

// buildSink selects the storage backend from configuration.
func buildSink(cfg config.StorageConfig) (storage.Sink, error) {
	switch cfg.Backend {
	case "supabase":
		return storage.NewSupabaseSink(storage.SupabaseConfig{
			URL:      cfg.Supabase.URL,
			APIKey:   cfg.Supabase.APIKey,
			Bucket:   cfg.Supabase.Bucket,
			SpoolDir: cfg.Supabase.SpoolDir,
		})
	default:
		return storage.NewLocalSink(cfg.Local.Dir)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
