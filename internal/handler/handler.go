package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/limiter"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/videosync"
	"github.com/kktae/veo-dashboard-sub000/pkg/security"
)

const (
	recordCacheTTL = 10 * time.Minute
	sourceLinkTTL  = 15 * time.Minute
	requestTimeout = 10 * time.Second
)

type Store interface {
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	ListPage(ctx context.Context, page, limit int) ([]models.Record, int, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) ([]string, error)
	DeleteAll(ctx context.Context) ([]string, error)
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Generator interface {
	Start(ctx context.Context, req generation.StartRequest) (*models.Record, error)
}

type Syncer interface {
	Initialized() bool
	Status(id string) (videosync.Entry, bool)
	All() map[string]videosync.Entry
	Rescan(ctx context.Context) (int, error)
	SyncInBackground(ctx context.Context, id, uri string) error
	Forget(id string)
}

// Files gives access to the published media of a record.
type Files interface {
	LocalPaths(id string) (videoPath, thumbnailPath string)
	Remove(id string) error
}

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Presigner interface {
	GetFileLink(ctx context.Context, bucketName, objectName string, expires time.Duration) (string, error)
}

type Deps struct {
	Store     Store
	Generator Generator
	Sync      Syncer
	Files     Files
	Cache     Cache
	// Presigner is optional; without it records carry no source link.
	Presigner Presigner
	Admin     *security.AdminAuth
	Counter   Counter
	RateLimit int
	// Queue is optional; its stats are included in the sync status.
	Queue interface{ Stats() limiter.Stats }
	// Checks are the readiness probes reported by /readyz.
	Checks map[string]func(context.Context) error
}

type Handler struct {
	store     Store
	generator Generator
	sync      Syncer
	files     Files
	cache     Cache
	presigner Presigner
	admin     *security.AdminAuth
	counter   Counter
	rateLimit int
	queue     interface{ Stats() limiter.Stats }
	checks    map[string]func(context.Context) error
	logger    *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Admin == nil {
		deps.Admin = security.NewAdminAuth("", 0)
	}
	return &Handler{
		store:     deps.Store,
		generator: deps.Generator,
		sync:      deps.Sync,
		files:     deps.Files,
		cache:     deps.Cache,
		presigner: deps.Presigner,
		admin:     deps.Admin,
		counter:   deps.Counter,
		rateLimit: deps.RateLimit,
		queue:     deps.Queue,
		checks:    deps.Checks,
		logger:    logger.Named("http"),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", h.Ready)

	r.GET("/videos/:file", h.ServeVideo)
	r.HEAD("/videos/:file", h.ServeVideo)
	r.GET("/thumbnails/:file", h.ServeThumbnail)
	r.HEAD("/thumbnails/:file", h.ServeThumbnail)

	api := r.Group("/api")
	limited := NewRateLimiter(RateLimiterConfig{
		Counter:   h.counter,
		Limit:     h.rateLimit,
		Window:    time.Minute,
		KeyPrefix: "rl:generate:",
		Logger:    h.logger,
	})
	api.POST("/generate", limited, h.Generate)
	api.GET("/models", h.ListModels)
	api.GET("/videos", h.ListVideos)
	api.GET("/videos/:id", h.GetVideo)
	api.GET("/sync/status", h.SyncStatus)
	api.POST("/admin/login", h.Login)

	admin := api.Group("", h.admin.Middleware())
	admin.DELETE("/videos/:id", h.DeleteVideo)
	admin.POST("/videos/bulk-delete", h.BulkDelete)
	admin.POST("/sync", h.Sync)
	admin.GET("/admin/settings", h.ListSettings)
	admin.PUT("/admin/settings/:key", h.PutSetting)
}

func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": results})
}

func recordCacheKey(id string) string {
	return "video:" + id
}
