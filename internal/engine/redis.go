package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis parses url and pings the server. It returns nil when url is
// empty, invalid or unreachable so callers fall back to in-memory backends.
func ConnectRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("redis: invalid URL, using in-memory backends", slog.Any("error", err))
		return nil
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis: unreachable, using in-memory backends", slog.Any("error", err))
		rdb.Close()
		return nil
	}
	slog.Info("redis: connected", slog.String("addr", opts.Addr))
	return rdb
}
