package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"qq_relation_bot/config"
	"qq_relation_bot/handlers"
	"qq_relation_bot/platform"
	"qq_relation_bot/settings"
	"qq_relation_bot/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()

	store, err := settings.OpenPgStore(ctx, pool)
	if err != nil {
		logger.Fatal("open settings store", zap.Error(err))
	}
	if err := store.EnsureDefaults(ctx, settings.Defaults()); err != nil {
		logger.Fatal("seed settings", zap.Error(err))
	}

	policy, err := settings.New(store, cfg.AdminIDs, logger)
	if err != nil {
		logger.Fatal("load settings", zap.Error(err))
	}
	if err := policy.Save(ctx); err != nil {
		logger.Fatal("persist normalized settings", zap.Error(err))
	}

	client := platform.NewOneBot(
		cfg.WSUrl,
		cfg.AccessToken,
		time.Duration(cfg.CallTimeoutSeconds)*time.Second,
		time.Duration(cfg.ReconnectSeconds)*time.Second,
		logger.Named("onebot"),
	)

	sponsor := verify.NewSponsor(pool, cfg.SponsorThreshold, logger.Named("verify"))
	h := handlers.New(client, policy, sponsor, logger.Named("handlers"))
	client.OnEvent(func(ev platform.Event) { h.OnEvent(ctx, ev) })

	logger.Info("bot started", zap.String("ws_url", cfg.WSUrl))
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("client stopped", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	return logger
}
