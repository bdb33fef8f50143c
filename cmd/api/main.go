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

	"golang.org/x/sync/errgroup"

	"github.com/repopulse/repopulse/internal/api"
	"github.com/repopulse/repopulse/internal/cache"
	"github.com/repopulse/repopulse/internal/collector"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/logging"
	"github.com/repopulse/repopulse/internal/scheduler"
	"github.com/repopulse/repopulse/internal/storage"
	"github.com/repopulse/repopulse/internal/storage/postgres"
	"github.com/repopulse/repopulse/internal/storage/sqlite"
)

const cacheSweepInterval = 5 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "repopulse")

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to initialize PostgreSQL storage", "err", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("failed to initialize SQLite storage", "err", err)
		}
	}
	defer store.Close()

	// Collection pipeline
	github := collector.NewGitHubClient(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo,
		cfg.PageSize, cfg.MaxPages, time.Duration(cfg.RequestTimeoutSeconds)*time.Second,
		logger.WithPrefix("github"))
	coll := collector.NewService(github, store, logger.WithPrefix("collector"))

	sched := scheduler.NewScheduler(coll, store, scheduler.NewCronRunner(), scheduler.Config{
		MetricsCron:          cfg.MetricsCron,
		CleanupCron:          cfg.CleanupCron,
		RetentionDays:        cfg.RetentionDays,
		MaxRetries:           cfg.MaxRetries,
		RetryDelaySeconds:    cfg.RetryDelaySeconds,
		BackoffMultiplier:    cfg.BackoffMultiplier,
		ErrorThreshold:       cfg.ErrorThreshold,
		NotificationsEnabled: cfg.NotificationsEnabled,
	}, logger.WithPrefix("scheduler"))

	responseCache := cache.New(cacheSweepInterval)
	defer responseCache.Stop()

	// HTTP surface
	handler := api.NewHandler(store, github, sched, responseCache, api.CacheTTLs{
		Metadata: time.Duration(cfg.MetadataTTLMinutes) * time.Minute,
		Activity: time.Duration(cfg.ActivityTTLMinutes) * time.Minute,
		Metrics:  time.Duration(cfg.MetricsTTLMinutes) * time.Minute,
	}, logger.WithPrefix("api"))
	router := api.SetupRoutes(handler, logger.WithPrefix("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// catch up on a missed collection before the first scheduled firing
	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	if _, err := coll.CollectIfNeeded(bootCtx); err != nil {
		logger.Warn("initial collection failed, the scheduler will retry", "err", err)
	}
	cancel()

	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", "err", err)
	}
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting API server", "addr", addr, "storage", cfg.StorageType,
			"repository", cfg.GitHubOwner+"/"+cfg.GitHubRepo)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", "err", err)
	}
	logger.Info("server stopped")
}
