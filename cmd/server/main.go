package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/app"
	"github.com/kktae/veo-dashboard-sub000/internal/config"
	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/handler"
	"github.com/kktae/veo-dashboard-sub000/internal/queue/rabbitmq"
	"github.com/kktae/veo-dashboard-sub000/internal/videosync"
	"github.com/kktae/veo-dashboard-sub000/pkg/logger"
	"github.com/kktae/veo-dashboard-sub000/pkg/security"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 30 * time.Second
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

	zl.Info("starting server", zap.String("addr", cfg.HTTPAddr), zap.String("dispatch", cfg.DispatchMode))

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	a, err := app.New(startCtx, cfg, zl, app.Options{
		Migrate: true,
		Broker:  cfg.DispatchMode == config.DispatchRabbitMQ,
	})
	cancel()
	if err != nil {
		zl.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Sync.Initialize(ctx); err != nil {
		zl.Error("video sync initialization failed", zap.Error(err))
	}

	if a.Rabbit != nil {
		a.Generation.SetDispatcher(generation.NewQueueDispatcher(a.Rabbit, rabbitmq.TaskQueue))
		completions, err := a.Rabbit.Consume(rabbitmq.CompletedQueue, 10)
		if err != nil {
			zl.Fatal("failed to consume completion events", zap.Error(err))
		}
		go consumeCompletions(ctx, completions, a.Sync, zl)
	}

	if cfg.LogFormat != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handler.RequestLogger(zl))
	h := handler.NewHandler(handler.Deps{
		Store:     a.Store,
		Generator: a.Generation,
		Sync:      a.Sync,
		Files:     a.Media,
		Cache:     a.Redis,
		Presigner: a.Minio,
		Admin:     security.NewAdminAuth(cfg.AdminKey, cfg.AdminTokenTTL),
		Counter:   a.Redis,
		RateLimit: cfg.RateLimitPerMinute,
		Queue:     a.Queue,
		Checks:    a.Checks(),
	}, zl)
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		zl.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
		_ = srv.Close()
	}

	// in-process runs keep their records moving; give them a moment
	drained := make(chan struct{})
	go func() {
		a.Generation.Wait()
		a.Sync.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		zl.Warn("in-flight work still running at exit")
	}
	zl.Info("server stopped")
}

// consumeCompletions makes sure videos finished by workers are present in the
// served directory.
func consumeCompletions(ctx context.Context, msgs <-chan amqp.Delivery, syncer *videosync.Service, zl *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				zl.Warn("completion queue closed")
				return
			}
			var ev generation.CompletedEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil || ev.ID == "" {
				zl.Warn("discarding malformed completion event", zap.ByteString("body", msg.Body))
				_ = msg.Nack(false, false)
				continue
			}
			if err := syncer.SyncNewVideo(ctx, ev.ID, ev.GCSURI); err != nil {
				zl.Warn("failed to sync completed video", zap.String("id", ev.ID), zap.Error(err))
			}
			_ = msg.Ack(false)
		}
	}
}
