package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"plateCover/api/bootstrap"
	"plateCover/api/config"
	"plateCover/api/handlers"
	"plateCover/api/service"
	"plateCover/api/validation"
	applog "plateCover/pkg/logger"
	"plateCover/worker/compositor"
	"plateCover/worker/inference"
	"plateCover/worker/pool"
	"plateCover/worker/reaper"
	processor "plateCover/worker/service"
	"plateCover/worker/workspace"
)

// unavailable stands in for the detector when startup could not prepare the
// pipeline; every readiness probe fails with err.
type unavailable struct{ err error }

func (u unavailable) Ping(context.Context) error { return u.err }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := applog.New(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("API Service starting",
		zap.String("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("store", cfg.Store.Backend),
	)

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	workspaces, err := workspace.NewManager(cfg.Storage.TasksPath, cfg.Storage.URLPrefix())
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	sinks, err := bootstrap.OpenSinks(ctx, cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	detector := inference.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.ImageSize, cfg.Detector.Timeout, logger)
	if err := detector.WaitReady(ctx, cfg.Detector.ReadyRetries); err != nil {
		logger.Warn("Detector not ready at startup", zap.Error(err))
	}
	coordinator := inference.NewCoordinator(detector, cfg.Detector.Concurrency, logger)

	var readiness service.Pinger = coordinator
	var painter processor.Painter
	overlay, err := compositor.LoadOverlay(cfg.Storage.OverlayPath, logger)
	if err != nil {
		logger.Error("Overlay unavailable, tasks will be refused",
			zap.String("path", cfg.Storage.OverlayPath),
			zap.Error(err),
		)
		readiness = unavailable{err: fmt.Errorf("overlay: %w", err)}
	} else {
		painter = overlay
	}

	proc := processor.NewProcessor(store, workspaces, coordinator, painter, sinks.Notifier, processor.Options{
		BatchSize:     cfg.Worker.BatchSize,
		JPEGQuality:   cfg.Worker.JPEGQuality,
		OutputPrefix:  cfg.Worker.OutputPrefix,
		DecodeWorkers: cfg.Worker.DecodeWorkers,
	}, logger)

	workers := pool.NewWorkerPool(cfg.Worker.Count, logger)
	tasks := service.NewTaskService(store, workspaces, workers, proc.Handle, readiness, cfg.Storage.TaskTTL, logger)

	limits := validation.Limits{
		MaxFiles:          cfg.Limits.MaxFiles,
		MaxFileSize:       cfg.Limits.MaxFileSize,
		AllowedExtensions: validation.DefaultExtensions,
	}
	router := handlers.NewRouter(handlers.NewTaskHandler(tasks, limits, logger), handlers.RouterConfig{
		MaxRequestSize: cfg.Limits.MaxRequestSize,
		ResultsPrefix:  cfg.Storage.URLPrefix(),
	}, logger)

	var opts []reaper.Option
	if sinks.Mirror != nil {
		opts = append(opts, reaper.WithMirror(sinks.Mirror))
	}
	go reaper.New(workspaces, store, cfg.Storage.TaskTTL, cfg.Storage.CleanupInterval, logger, opts...).Start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	workers.Wait()
	proc.Wait()
	logger.Info("Server stopped")
	return nil
}
