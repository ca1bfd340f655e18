package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/l0p7/feedstack/internal/articles"
	"github.com/l0p7/feedstack/internal/cache"
	"github.com/l0p7/feedstack/internal/config"
	"github.com/l0p7/feedstack/internal/logging"
	"github.com/l0p7/feedstack/internal/metrics"
	"github.com/l0p7/feedstack/internal/newsapi"
	"github.com/l0p7/feedstack/internal/server"
	"github.com/l0p7/feedstack/internal/store"
	"github.com/l0p7/feedstack/internal/userdata"
)

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return fileLoader{config.NewLoader(envPrefix, configFile)}
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "FEEDSTACK", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires storage, cache, upstream client and HTTP surface, then blocks
// until ctx is cancelled or a component fails.
func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	kv, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := kv.Close(closeCtx); err != nil {
			logger.Error("storage shutdown failed", slog.Any("error", err))
		}
	}()

	engine, err := cache.New(cache.Options{
		Store:           kv,
		Logger:          logger,
		Metrics:         recorder,
		DefaultDuration: cfg.Cache.DefaultTTLDuration(),
		MaxSize:         cfg.Cache.MaxSizeBytes,
		LowWaterRatio:   cfg.Cache.LowWaterRatio,
	})
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	if strings.TrimSpace(cfg.NewsAPI.APIKey) == "" {
		logger.Warn("newsapi key not configured; article requests will fail", slog.String("env", envPrefix+"_NEWSAPI__APIKEY"))
	}
	client, err := newsapi.New(newsapi.Options{
		BaseURL:   cfg.NewsAPI.BaseURL,
		APIKey:    cfg.NewsAPI.APIKey,
		UserAgent: cfg.NewsAPI.UserAgent,
		Timeout:   cfg.NewsAPI.TimeoutDuration(),
		RetryMax:  cfg.NewsAPI.RetryMax,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		return fmt.Errorf("build newsapi client: %w", err)
	}

	user := userdata.New(kv)
	service, err := articles.NewService(articles.Options{
		Cache:       articles.NewCache(engine),
		Fetcher:     client,
		Preferences: user,
		Logger:      logger,
		TTL:         ttlPolicy(cfg.Cache),
	})
	if err != nil {
		return fmt.Errorf("build article service: %w", err)
	}

	handler, err := server.NewRouter(server.RouterOptions{
		Articles:          service,
		Cache:             engine,
		UserData:          user,
		Metrics:           recorder.Handler(),
		Logger:            logger,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	janitor := cache.NewJanitor(engine, cfg.Cache.JanitorIntervalDuration(), logger)

	if strings.TrimSpace(configFile) != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			applyReload(logger, engine, service, janitor, next)
		}, func(err error) {
			logger.Error("config watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// applyReload pushes the hot-reloadable cache knobs into the running components.
// Listener, storage and upstream settings need a restart.
func applyReload(logger *slog.Logger, engine *cache.Engine, service *articles.Service, janitor *cache.Janitor, cfg config.Config) {
	engine.SetLimits(cfg.Cache.MaxSizeBytes, cfg.Cache.LowWaterRatio, cfg.Cache.DefaultTTLDuration())
	service.SetTTLPolicy(ttlPolicy(cfg.Cache))
	janitor.SetInterval(cfg.Cache.JanitorIntervalDuration())
	logger.Info("configuration reloaded",
		slog.Int64("max_size_bytes", cfg.Cache.MaxSizeBytes),
		slog.Float64("low_water_ratio", cfg.Cache.LowWaterRatio),
		slog.Duration("default_ttl", cfg.Cache.DefaultTTLDuration()),
		slog.Duration("janitor_interval", cfg.Cache.JanitorIntervalDuration()),
	)
}

func ttlPolicy(cfg config.CacheConfig) articles.TTLPolicy {
	return articles.TTLPolicy{
		Default:            cfg.DefaultTTLDuration(),
		Max:                cfg.MaxTTLDuration(),
		FollowCacheControl: cfg.FollowCacheControl,
	}
}
