// Package app wires the shared dependencies of the server and worker
// binaries.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/config"
	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/handler"
	"github.com/kktae/veo-dashboard-sub000/internal/limiter"
	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/media/ffmpeg"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/poller"
	"github.com/kktae/veo-dashboard-sub000/internal/queue/rabbitmq"
	minioclient "github.com/kktae/veo-dashboard-sub000/internal/storage/minio"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
	"github.com/kktae/veo-dashboard-sub000/internal/vertex"
	"github.com/kktae/veo-dashboard-sub000/internal/videosync"
	"github.com/kktae/veo-dashboard-sub000/pkg/clock"
	"github.com/kktae/veo-dashboard-sub000/pkg/database/postgres"
	redisclient "github.com/kktae/veo-dashboard-sub000/pkg/database/redis"
)

type Options struct {
	// Migrate applies the schema before anything else uses the pool.
	Migrate bool
	// Broker connects to RabbitMQ.
	Broker bool
	// PublishCompletions announces finished videos on the completion queue.
	PublishCompletions bool
}

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Pool   *pgxpool.Pool
	Store  *store.Store
	Minio  *minioclient.Client
	Redis  *redisclient.Client
	Rabbit *rabbitmq.Client

	Queue      *limiter.Queue
	Media      *media.Processor
	Generation *generation.Service
	Sync       *videosync.Service

	closers []func()
}

// New connects every backing service and builds the workflow. On error
// whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error

	logger.Info("connecting to postgres")
	a.Pool, err = postgres.NewClient(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a.closers = append(a.closers, a.Pool.Close)
	a.Store = store.New(a.Pool, logger)
	if opts.Migrate {
		if err = a.Store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Info("connecting to object storage", zap.String("endpoint", cfg.MinioEndpoint))
	a.Minio, err = minioclient.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if bucket := outputBucket(cfg.OutputGCSURI); bucket != "" {
		if err := a.Minio.CheckBucket(ctx, bucket); err != nil {
			logger.Warn("output bucket is not reachable", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	logger.Info("connecting to redis")
	a.Redis, err = redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.Redis.Close() })

	if opts.Broker {
		logger.Info("connecting to rabbitmq")
		a.Rabbit, err = rabbitmq.NewClient(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.Rabbit.Close() })
	}

	a.Queue = limiter.New(cfg.MediaConcurrency)
	analyzer := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		ThumbnailWidth: cfg.ThumbnailWidth,
	}, logger)
	a.Media = media.NewProcessor(a.Minio, analyzer, a.Queue, media.Config{
		PublicDir:       cfg.PublicDir,
		AnalysisTimeout: cfg.AnalysisTimeout,
	}, logger)
	if err = a.Media.EnsureDirs(); err != nil {
		return nil, err
	}

	genaiClient, err := vertex.NewClient(ctx, vertex.Config{
		Project:      cfg.GoogleCloudProject,
		Location:     cfg.GoogleCloudLocation,
		APIKey:       cfg.GeminiAPIKey,
		OutputGCSURI: cfg.OutputGCSURI,
	})
	if err != nil {
		return nil, err
	}

	invalidator := handler.NewCacheInvalidator(a.Redis, logger)
	a.Sync = videosync.New(a.Store, a.Media, logger)
	a.Sync.SetNotifier(invalidator)

	notifiers := generation.Notifiers{invalidator}
	if opts.PublishCompletions && a.Rabbit != nil {
		notifiers = append(notifiers, generation.NewEventNotifier(a.Rabbit, rabbitmq.CompletedQueue, logger))
	} else {
		notifiers = append(notifiers, a.Sync)
	}

	policy := poller.DefaultPolicy()
	policy.Timeout = cfg.PollTimeout

	a.Generation = generation.NewService(generation.Deps{
		Store:      a.Store,
		Translator: vertex.NewTranslator(genaiClient, logger),
		Generator:  vertex.NewGenerator(genaiClient, cfg.OutputGCSURI, logger),
		Waiter:     poller.New(policy, clock.Real{}, logger),
		Processor:  a.Media,
		Notifier:   notifiers,
		Clock:      clock.Real{},
		Retry:      generation.DefaultRetryPolicy(),
	}, generation.Config{
		TranslationModel:  cfg.TranslationModel,
		SystemInstruction: cfg.TranslationSystem,
		UserPrompt:        cfg.TranslationPrompt,
		Video: models.VideoOptions{
			Model:         cfg.GenerationModel,
			EnhancePrompt: true,
		},
	}, logger)
	a.Sync.SetBusyCheck(a.Generation.Running)

	ready = true
	return a, nil
}

// outputBucket extracts the bucket of a gs:// or s3:// output prefix.
func outputBucket(uri string) string {
	_, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return ""
	}
	bucket, _, _ := strings.Cut(rest, "/")
	return bucket
}

// Checks returns the readiness probes of the backing services.
func (a *App) Checks() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"postgres": a.Pool.Ping,
		"redis":    a.Redis.Ping,
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
