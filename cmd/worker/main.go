package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/app"
	"github.com/kktae/veo-dashboard-sub000/internal/config"
	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/queue/rabbitmq"
	"github.com/kktae/veo-dashboard-sub000/pkg/logger"
)

const (
	WorkerPoolSize = 5
	// covers every retry of a run including the poll deadline of each
	taskTimeout = 2 * time.Hour
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

	zl.Info("starting worker service", zap.Int("pool_size", WorkerPoolSize))

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(startCtx, cfg, zl, app.Options{
		Broker:             true,
		PublishCompletions: true,
	})
	cancel()
	if err != nil {
		zl.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	msgs, err := a.Rabbit.Consume(rabbitmq.TaskQueue, WorkerPoolSize)
	if err != nil {
		zl.Fatal("failed to start consuming", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	taskChan := make(chan generation.Task, WorkerPoolSize)

	for i := 0; i < WorkerPoolSize; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wl := zl.With(zap.Int("worker", workerID))
			wl.Info("worker started")

			for task := range taskChan {
				wl.Info("processing task", zap.String("id", task.ID))

				runCtx, cancel := context.WithTimeout(context.Background(), taskTimeout)
				err := a.Generation.Run(runCtx, task)
				cancel()

				if err != nil {
					wl.Warn("task failed", zap.String("id", task.ID), zap.Error(err))
				} else {
					wl.Info("task completed", zap.String("id", task.ID))
				}
			}

			wl.Info("worker stopped")
		}(i + 1)
	}

	go func() {
		defer close(taskChan)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					zl.Warn("task queue closed")
					stop()
					return
				}
				var task generation.Task
				if err := json.Unmarshal(msg.Body, &task); err != nil || !media.ValidID(task.ID) {
					zl.Warn("discarding malformed task", zap.ByteString("body", msg.Body))
					_ = msg.Nack(false, false)
					continue
				}

				zl.Info("received task", zap.String("id", task.ID))
				select {
				case taskChan <- task:
					// the run records its own failures, so the message is done
					_ = msg.Ack(false)
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}
	}()

	zl.Info("worker service is running")
	<-ctx.Done()
	zl.Info("shutting down gracefully")

	wg.Wait()
	zl.Info("worker service stopped")
}
