// Command reaper runs a single cleanup sweep and exits. It suits cron-style
// scheduling next to servers started with a long CLEANUP_INTERVAL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"plateCover/api/bootstrap"
	"plateCover/api/config"
	applog "plateCover/pkg/logger"
	"plateCover/worker/reaper"
	"plateCover/worker/workspace"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer closeStore()

	workspaces, err := workspace.NewManager(cfg.Storage.TasksPath, cfg.Storage.URLPrefix())
	if err != nil {
		logger.Fatal("Failed to open workspace root", zap.Error(err))
	}

	var opts []reaper.Option
	mirror, err := bootstrap.OpenMirror(ctx, cfg.Notify, logger)
	if err != nil {
		logger.Fatal("Failed to open result mirror", zap.Error(err))
	}
	if mirror != nil {
		opts = append(opts, reaper.WithMirror(mirror))
	}

	removed := reaper.New(workspaces, store, cfg.Storage.TaskTTL, cfg.Storage.CleanupInterval, logger, opts...).RunOnce(ctx)
	logger.Info("Reaper finished", zap.Int("removed", removed))
}
