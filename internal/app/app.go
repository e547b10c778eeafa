// Package app wires the backend, cache and notification components shared by the server and the
// terminal watcher.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/backend/local"
	"github.com/tolkhub/jobwatch/internal/backend/remote"
	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/database"
)

// Backend 按 backend.driver 选择远程 REST 或本地数据库实现。返回的 Local 仅在本地模式下非 nil
type Backend struct {
	backend.Backend
	Local *local.Backend
	close func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func OpenBackend(cfg *config.Config) (*Backend, error) {
	switch cfg.Backend.Driver {
	case "remote", "":
		if cfg.Backend.URL == "" {
			return nil, fmt.Errorf("backend.url is required for the remote backend")
		}
		return &Backend{Backend: remote.New(cfg.Backend)}, nil
	case "local":
		db, err := database.NewGorm(&cfg.Database, cfg.Server.Mode == "debug")
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		lb := local.New(db)
		return &Backend{Backend: lb, Local: lb, close: sqlDB.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported backend driver: %s", cfg.Backend.Driver)
	}
}

// OpenRedis 未启用时返回 nil
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rdb, err := database.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	slog.Info("redis connected", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	return rdb, nil
}

// NewCache 创建查询缓存，条目按请求用户隔离
func NewCache(cfg *config.Config, rdb *redis.Client) (*cache.Client, error) {
	var store cache.Store
	switch cfg.Cache.Driver {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache.driver redis requires redis.enabled")
		}
		store = cache.NewRedisStore(rdb, cfg.Cache.Prefix, cfg.Cache.TTL)
	case "memory", "":
		mem, err := cache.NewMemoryStore(cfg.Cache.Size)
		if err != nil {
			return nil, err
		}
		store = mem
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
	return cache.NewClient(store, cache.WithNamespace(backend.UserID)), nil
}
