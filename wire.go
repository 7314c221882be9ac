package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/redis/go-redis/v9"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/engine/analytics"
	"github.com/anatolykoptev/go_media/internal/engine/extract"
	"github.com/anatolykoptev/go_media/internal/engine/queue"
	"github.com/anatolykoptev/go_media/internal/engine/storage"
	"github.com/anatolykoptev/go_media/internal/engine/worker"
)

// taskQueue is what both sides of the queue need.
type taskQueue interface {
	engine.TaskPublisher
	worker.Consumer
}

type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// app holds the shared backends for every role.
type app struct {
	cfg       engine.Config
	rdb       *redis.Client
	registry  engine.Registry
	blobs     engine.BlobStore
	cache     *engine.ContentCache
	queue     taskQueue
	history   analytics.Store // nil when no database is configured
	primary   *extract.YtDlp
	alternate *extract.GalleryDL
	svc       *engine.Service
}

func wire(ctx context.Context, cfg engine.Config) (*app, error) {
	cfg = cfg.Normalized()
	a := &app{cfg: cfg}

	a.rdb = engine.ConnectRedis(env.Str("REDIS_URL", ""))
	if a.rdb == nil && mode != "all" {
		return nil, fmt.Errorf("MODE=%s needs a reachable REDIS_URL", mode)
	}

	var index engine.CacheIndex
	if a.rdb != nil {
		a.registry = engine.NewRedisRegistry(a.rdb, cfg.JobTTL)
		index = engine.NewRedisCacheIndex(a.rdb)
		a.queue = queue.NewRedisQueue(a.rdb, env.Str("QUEUE_KEY", queue.DefaultKey))
	} else {
		a.registry = engine.NewMemoryRegistry(cfg.JobTTL)
		index = engine.NewMemoryCacheIndex()
		a.queue = queue.NewMemoryQueue(cfg.MaxConcurrent + cfg.QueueCapacity)
	}

	blobs, err := openBlobs(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.blobs = blobs
	a.cache = engine.NewContentCache(index, blobs, cfg.CacheRetention, cfg.CacheMinAccess)

	a.history = openHistory(ctx)

	a.primary = extract.NewYtDlp(env.Str("YTDLP_BIN", "yt-dlp"), cfg.CookiesPath)
	a.alternate = extract.NewGalleryDL(env.Str("GALLERYDL_BIN", "gallery-dl"), cfg.CookiesPath)

	a.svc = engine.NewService(cfg, engine.ServiceDeps{
		Registry: a.registry,
		Cache:    a.cache,
		Queue:    a.queue,
		Prober:   a.primary,
		Recorder: a.recorder(),
		Redis:    a.rdb,
	})
	return a, nil
}

// openBlobs prefers an S3-compatible bucket and falls back to local disk.
func openBlobs(ctx context.Context) (engine.BlobStore, error) {
	if endpoint := env.Str("MINIO_ENDPOINT", ""); endpoint != "" {
		s, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: env.Str("MINIO_ACCESS_KEY", ""),
			SecretKey: env.Str("MINIO_SECRET_KEY", ""),
			Bucket:    env.Str("MINIO_BUCKET", "media"),
			UseSSL:    env.Str("MINIO_SECURE", "false") == "true",
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage: minio", slog.String("endpoint", endpoint))
		return s, nil
	}
	root := env.Str("STORAGE_PATH", "/var/lib/go_media/files")
	s, err := storage.NewFSStore(root)
	if err != nil {
		return nil, err
	}
	slog.Info("storage: local disk", slog.String("root", root))
	return s, nil
}

// openHistory connects the analytics store. Failures disable history
// instead of stopping the service.
func openHistory(ctx context.Context) analytics.Store {
	if url := env.Str("DATABASE_URL", ""); url != "" {
		s, err := analytics.ConnectPostgres(ctx, url)
		if err == nil {
			slog.Info("analytics: postgres")
			return s
		}
		slog.Warn("analytics: postgres init failed", slog.Any("error", err))
	}
	if path := env.Str("SQLITE_PATH", ""); path != "" {
		s, err := analytics.OpenSQLite(path)
		if err == nil {
			slog.Info("analytics: sqlite", slog.String("path", path))
			return s
		}
		slog.Warn("analytics: sqlite init failed", slog.Any("error", err))
	}
	return nil
}

func (a *app) recorder() engine.Recorder {
	if a.history == nil {
		return nil
	}
	return a.history
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			slog.Debug("redis: close", slog.Any("error", err))
		}
	}
}
