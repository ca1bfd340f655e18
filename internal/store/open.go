package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/l0p7/feedstack/internal/config"
)

// Open builds the backend selected by cfg.Backend. An unreachable redis server
// degrades to the memory backend so the process still serves requests.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory store")
		return NewMemory(), nil
	case "sqlite":
		s, err := NewSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", slog.String("path", cfg.SQLite.Path))
		return s, nil
	case "redis":
		s, err := NewRedis(ctx, RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis store initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory store")
			return NewMemory(), nil
		}
		logger.Info("using redis store", slog.String("address", cfg.Redis.Address))
		return s, nil
	default:
		logger.Warn("unsupported storage backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return NewMemory(), nil
	}
}
