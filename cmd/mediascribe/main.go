package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediascribe/internal/artifacts"
	"mediascribe/internal/config"
	"mediascribe/internal/diagnostics"
	"mediascribe/internal/events"
	"mediascribe/internal/media"
	"mediascribe/internal/pipeline"
	"mediascribe/internal/server"
	"mediascribe/internal/store"
	"mediascribe/internal/synth"
	"mediascribe/internal/transcribe"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)
	logger.Info("starting mediascribe",
		"addr", cfg.Server.Addr,
		"data_dir", cfg.Paths.DataDir,
		"max_workers", cfg.Pipeline.MaxWorkers)

	report := diagnostics.NewChecker().Run(cfg)
	for _, item := range report.Items {
		if item.Status == "fail" {
			logger.Warn("startup check failed", "check", item.ID, "message", item.Message)
		}
	}

	tasks := store.New(cfg.SnapshotPath(), logger)
	if err := tasks.LoadOnStartup(); err != nil {
		logger.Error("load task snapshot", "err", err)
		os.Exit(1)
	}

	artifactStore := artifacts.New(
		cfg.Paths.TempDir,
		cfg.Paths.OutputDir,
		cfg.Pipeline.RetentionTasks,
		cfg.Pipeline.RetentionMinAge,
		logger,
	)

	bus := events.NewBus(1000)
	var natsPub *events.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPub, err = events.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Error("connect to NATS", "url", cfg.NATS.URL, "err", err)
			os.Exit(1)
		}
		defer natsPub.Close()
		bus.AddSink(natsPub)
		logger.Info("mirroring task events to NATS", "subject", cfg.NATS.Subject)
	}

	ffmpeg := media.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe)
	acquirer := media.NewCommandAcquirer(cfg.Tools.YtDlp, artifactStore.TaskWorkingDir)
	transcriber := transcribe.NewWhisper(cfg.Tools.Whisper, cfg.Tools.WhisperModel, "auto")
	registry := synth.NewRegistry()

	runner := pipeline.NewRunner(
		cfg.Pipeline,
		tasks,
		artifactStore,
		acquirer,
		ffmpeg,
		transcriber,
		registry,
		cfg.Synth.Provider,
		bus,
		logger,
	)
	dispatcher := pipeline.NewDispatcher(runner, cfg.Pipeline.MaxWorkers, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(tasks, artifactStore, dispatcher, bus, report, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	if flagged := tasks.CancelAllProcessing(); len(flagged) > 0 {
		logger.Info("flagged in-flight tasks for cancellation", "count", len(flagged))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("workers did not drain before deadline", "err", err)
	}
	if err := tasks.Persist(); err != nil {
		logger.Error("final snapshot persist failed", "err", err)
	}
	logger.Info("stopped")
}

// parseLogLevel maps a config string onto a slog level, defaulting to info.
func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
