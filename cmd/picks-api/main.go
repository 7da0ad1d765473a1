package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"stockpicks/internal/api"
	"stockpicks/internal/auth"
	"stockpicks/internal/config"
	"stockpicks/internal/db"
	"stockpicks/internal/events"
	"stockpicks/internal/game"
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
	cfg, err := config.LoadAPIFromEnv()
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

	gameSvc := game.NewService(pool, logger,
		game.WithPrices(cache),
		game.WithRefresher(prices.NewRefresher(cache, publisher, cfg.RefreshDelay, logger)),
		game.WithPublisher(publisher),
		game.WithAnnouncer(discord),
		game.WithTokens(auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)),
		game.WithLocation(cfg.Location),
	)
	if len(cfg.SeedUsers) > 0 {
		if err := gameSvc.SeedUsers(ctx, cfg.SeedUsers); err != nil {
			logger.Error("seed users failed", "err", err)
			os.Exit(1)
		}
	}

	server := api.New(cfg, logger, gameSvc, cache)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("picks api listening", "addr", cfg.Addr, "market_tz", cfg.MarketTimezone)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
