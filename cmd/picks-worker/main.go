package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"stockpicks/internal/config"
	"stockpicks/internal/db"
	"stockpicks/internal/events"
	"stockpicks/internal/game"
	"stockpicks/internal/jobs"
	"stockpicks/internal/notify"
	"stockpicks/internal/prices"
	"stockpicks/internal/quotes"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var store prices.Store = prices.NewPGStore(pool)
	if cfg.RedisURL != "" {
		rdb, err := prices.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = prices.NewRedisStore(rdb, store, cfg.CacheTTL, logger)
	}
	cache := prices.NewCache(store, quotes.FromConfig(cfg.Providers, logger), logger, prices.WithTTL(cfg.CacheTTL))

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	discord, err := notify.NewDiscord(cfg.DiscordWebhookID, cfg.DiscordWebhookToken, logger)
	if err != nil {
		logger.Error("discord init failed", "err", err)
		os.Exit(1)
	}

	svc := game.NewService(pool, logger,
		game.WithPrices(cache),
		game.WithRefresher(prices.NewRefresher(cache, publisher, cfg.RefreshDelay, logger)),
		game.WithPublisher(publisher),
		game.WithAnnouncer(discord),
		game.WithLocation(cfg.Location),
	)

	sched := jobs.New(logger, cfg.Location)
	for _, job := range []jobs.Job{
		jobs.NewRefreshPrices(svc, cfg.RefreshSchedule, logger),
		jobs.NewSnapshotCloses(svc, cfg.SnapshotSchedule, logger),
		jobs.NewCalculateWinners(svc, cfg.WinnerSchedule, logger),
	} {
		if err := sched.Add(job); err != nil {
			logger.Error("schedule job failed", "err", err)
			os.Exit(1)
		}
	}

	if cfg.RunOnce {
		err := sched.RunAll(ctx)
		logJobStats(logger, sched)
		if err != nil {
			logger.Error("worker run-once failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	sched.Start(ctx)
	logger.Info("worker started", "market_tz", cfg.MarketTimezone)
	<-ctx.Done()
	sched.Stop()
	logJobStats(logger, sched)
	logger.Info("worker shutdown")
}

func logJobStats(logger *slog.Logger, sched *jobs.Scheduler) {
	for _, st := range sched.Stats() {
		logger.Info("job stats",
			"job", st.Job,
			"schedule", st.Schedule,
			"runs", st.TotalRuns,
			"failures", st.FailureCount,
			"last_success", st.LastSuccess,
			"last_error", st.LastError,
		)
	}
}
