// go_media: media download orchestration with a content cache.
//
// One binary, four roles selected by MODE:
//   - server: MCP tools, HTTP API and the cache sweeper
//   - worker: consumes download tasks
//   - bot:    Telegram front-end
//   - all:    everything in one process (default)
//
// Split roles share state through Redis; "all" runs without it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/engine/worker"
	"github.com/anatolykoptev/go_media/internal/httpapi"
	"github.com/anatolykoptev/go_media/internal/jobserver"
	"github.com/anatolykoptev/go_media/internal/telegram"
)

var (
	version = "dev"
	mode    = env.Str("MODE", "all")
	mcpPort = env.Str("MCP_PORT", "8891")
	apiPort = env.Str("API_PORT", "8892")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("go_media failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := loadConfig()
	slog.Info("starting go_media",
		slog.String("mode", mode),
		slog.String("version", version),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
		slog.Int("queue_capacity", cfg.QueueCapacity),
	)

	botToken := env.Str("TELEGRAM_BOT_TOKEN", "")
	if mode == "bot" && botToken == "" {
		return errors.New("MODE=bot needs TELEGRAM_BOT_TOKEN")
	}

	a, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	if runs("server") {
		g.Go(func() error { return serveMCP(a) })
		g.Go(func() error { return serveAPI(gctx, a) })
		g.Go(func() error { return a.svc.RunSweeper(gctx) })
	}
	if runs("worker") {
		g.Go(func() error { return runWorkers(gctx, a) })
	}
	if runs("bot") {
		if botToken == "" {
			slog.Info("telegram: no token, bot disabled")
		} else {
			g.Go(func() error { return runBot(gctx, a, botToken) })
		}
	}
	return g.Wait()
}

// runs reports whether role is active in the current mode.
func runs(role string) bool { return mode == "all" || mode == role }

func loadConfig() engine.Config {
	d := engine.DefaultConfig()
	return engine.Config{
		MaxConcurrent:      env.Int("MAX_CONCURRENT", d.MaxConcurrent),
		QueueCapacity:      env.Int("QUEUE_CAPACITY", d.QueueCapacity),
		JobTTL:             env.Duration("JOB_TTL", d.JobTTL),
		JobTimeout:         env.Duration("JOB_TIMEOUT", d.JobTimeout),
		WatchInterval:      env.Duration("WATCH_INTERVAL", d.WatchInterval),
		WatchTimeout:       env.Duration("WATCH_TIMEOUT", d.WatchTimeout),
		ProgressStep:       env.Int("PROGRESS_STEP", d.ProgressStep),
		CacheRetention:     env.Duration("CACHE_RETENTION", d.CacheRetention),
		CacheMinAccess:     int64(env.Int("CACHE_MIN_ACCESS", int(d.CacheMinAccess))),
		CacheSweepInterval: env.Duration("CACHE_SWEEP_INTERVAL", d.CacheSweepInterval),
		InfoCacheTTL:       env.Duration("INFO_CACHE_TTL", d.InfoCacheTTL),
		MaxFileSize:        int64(env.Int("MAX_FILE_SIZE", int(d.MaxFileSize))),
		TransientRetries:   env.Int("TRANSIENT_RETRIES", d.TransientRetries),
		RetryBackoff:       env.Duration("RETRY_BACKOFF", d.RetryBackoff),
		RateLimitPerMinute: env.Int("RATE_LIMIT_PER_MINUTE", d.RateLimitPerMinute),
		DownloadPath:       env.Str("DOWNLOAD_PATH", d.DownloadPath),
		CookiesPath:        env.Str("COOKIES_PATH", ""),
		ProbePlatforms:     env.List("PROBE_PLATFORMS", strings.Join(d.ProbePlatforms, ",")),
		FallbackPlatforms:  env.List("FALLBACK_PLATFORMS", strings.Join(d.FallbackPlatforms, ",")),
	}
}

func serveMCP(a *app) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_media",
		Version: version,
	}, nil)
	jobserver.RegisterTools(server, a.svc, a.history)

	return mcpserver.Run(server, mcpserver.Config{
		Name:         "go_media",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	})
}

func serveAPI(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:              ":" + apiPort,
		Handler:           httpapi.NewRouter(a.svc, a.blobs, httpapi.Options{Token: env.Str("API_TOKEN", "")}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http: shutdown", slog.Any("error", err))
		}
	}()

	slog.Info("http: listening", slog.String("port", apiPort))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runWorkers(ctx context.Context, a *app) error {
	if r, ok := a.queue.(recoverer); ok {
		n, err := r.Recover(ctx)
		if err != nil {
			slog.Warn("worker: recover stranded tasks", slog.Any("error", err))
		} else if n > 0 {
			slog.Info("worker: requeued stranded tasks", slog.Int("count", n))
		}
	}
	size := env.Int("WORKER_CONCURRENCY", a.cfg.MaxConcurrent)
	w := worker.New(a.cfg, worker.Deps{
		Registry:  a.registry,
		Cache:     a.cache,
		Blobs:     a.blobs,
		Primary:   a.primary,
		Alternate: a.alternate,
		Prober:    a.primary,
		Recorder:  a.recorder(),
	})
	slog.Info("worker: pool started", slog.Int("size", size))
	return worker.NewPool(w, a.queue, size).Run(ctx)
}

func runBot(ctx context.Context, a *app, token string) error {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return err
	}
	slog.Info("telegram: authorized", slog.String("username", api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	return telegram.New(api, a.svc, a.blobs, a.history).Run(ctx, updates)
}
