package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/jira-search-client/pkg/client"
	"github.com/Sternrassler/jira-search-client/pkg/config"
	"github.com/Sternrassler/jira-search-client/pkg/issues"
	"github.com/Sternrassler/jira-search-client/pkg/logging"
	"github.com/Sternrassler/jira-search-client/pkg/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("search-proxy failed")
	}
}

func run() error {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(cfg.LoggerConfig("search-proxy"))
	logger := logging.NewLogger("search-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return fmt.Errorf("redis options: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, cache and shared rate limit disabled")
	}

	jira, err := client.New(cfg.ClientConfig(redisClient, &logger))
	if err != nil {
		return fmt.Errorf("create jira client: %w", err)
	}
	defer jira.Close()

	searchVersion, err := cfg.SearchVersion()
	if err != nil {
		return err
	}
	searchCfg := jira.SearchConfig(searchVersion)
	searchCfg.CloudSuffixes = cfg.Search.CloudSuffixes
	searcher, err := issues.NewSearcher(searchCfg)
	if err != nil {
		return fmt.Errorf("create searcher: %w", err)
	}
	metrics.SetBuildInfo(version, string(searcher.Version()))

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: newServer(serverDeps{
			Searcher: searcher,
			Jira:     jira,
			Redis:    redisClient,
			Defaults: searchDefaults{
				Fields:   cfg.DefaultFields(),
				PageSize: cfg.Search.PageSize,
			},
			Logger: logger,
		}).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("jira", jira.BaseURL()).
			Str("search_version", string(searcher.Version())).
			Str("version", version).
			Msg("Starting search proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped gracefully")
	return nil
}
