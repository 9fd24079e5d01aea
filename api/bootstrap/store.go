// Package bootstrap assembles the long-lived dependencies shared by the
// server and the standalone reaper from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plateCover/api/cache"
	"plateCover/api/config"
	"plateCover/api/database"
	"plateCover/api/repository"
)

// OpenStore connects the task store selected by STORE_BACKEND. The returned
// close func releases the underlying connection and is never nil.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repository.TaskStore, func(), error) {
	switch cfg.Backend {
	case "redis":
		conn, err := database.ConnectCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("Task store ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
		return cache.NewStatusCache(conn.Client()), func() { conn.Close() }, nil

	case "postgres":
		db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := repository.NewPostgresRepo(db.Pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("Task store ready", zap.String("backend", "postgres"))
		return repo, db.Close, nil

	case "memory", "":
		logger.Info("Task store ready", zap.String("backend", "memory"))
		return repository.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
