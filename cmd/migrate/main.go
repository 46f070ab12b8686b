package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/config"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
	"github.com/kktae/veo-dashboard-sub000/pkg/database/postgres"
	"github.com/kktae/veo-dashboard-sub000/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	zl.Info("connecting to postgres")
	pool, err := postgres.NewClient(ctx, cfg.PostgresURL)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	zl.Info("running migrations")
	if err := store.New(pool, zl).Migrate(ctx); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}
	zl.Info("migration runner finished")
}
