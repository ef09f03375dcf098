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
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/drug-speak/internal/auth"
	"github.com/drug-speak/internal/catalog"
	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/handler"
	"github.com/drug-speak/internal/kafka"
	"github.com/drug-speak/internal/postgres"
	"github.com/drug-speak/internal/redis"
	"github.com/drug-speak/internal/service"
	"github.com/drug-speak/internal/websocket"
	"github.com/drug-speak/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	drugs, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading drug catalog: %w", err)
	}
	logger.Info("drug catalog loaded", "drugs", len(drugs.Drugs()), "categories", len(drugs.Categories()))

	tokens, err := auth.NewManager(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	checks := map[string]handler.Pinger{"postgres": repo}

	// cache stays a nil interface when Redis is disabled
	var (
		recordCache *redis.RecordCache
		cache       service.RecordCache
	)
	if cfg.Cache.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		recordCache, err = redis.NewRecordCache(ctx, &cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer recordCache.Close()
		cache = recordCache
		checks["redis"] = recordCache
	}

	hub := websocket.NewHub(logger)

	records := service.NewStudyRecordService(repo, cache, hub, &cfg.Leaderboard, logger)
	users := service.NewUserService(repo, tokens, cache, logger)

	h := handler.NewHandler(records, users, drugs, hub, checks, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})

	var refresher *worker.CacheRefresher
	if recordCache != nil {
		refresher = worker.NewCacheRefresher(repo, recordCache, &cfg.Cache, logger)
		if err := refresher.Start(gctx); err != nil {
			return fmt.Errorf("starting cache refresher: %w", err)
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(&cfg.Kafka, records, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			g.Go(func() error {
				if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Kafka consumer did not become ready", "error", err)
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", "error", err)
		}
		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.Error("failed to stop Kafka consumer", "error", err)
			}
		}
		if refresher != nil {
			if err := refresher.Stop(); err != nil {
				logger.Error("failed to stop cache refresher", "error", err)
			}
		}
		hub.Stop()
		return nil
	})

	return g.Wait()
}
