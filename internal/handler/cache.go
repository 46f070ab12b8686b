package handler

import (
	"context"

	"go.uber.org/zap"
)

// CacheInvalidator drops cached records whenever the orchestrator changes
// them.
type CacheInvalidator struct {
	cache  Cache
	logger *zap.Logger
}

func NewCacheInvalidator(cache Cache, logger *zap.Logger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheInvalidator{cache: cache, logger: logger}
}

func (i *CacheInvalidator) RecordUpdated(ctx context.Context, id string) {
	if err := i.cache.Delete(ctx, recordCacheKey(id)); err != nil {
		i.logger.Warn("failed to invalidate cached record", zap.String("id", id), zap.Error(err))
	}
}

func (i *CacheInvalidator) VideoCompleted(ctx context.Context, id, _ string) {
	i.RecordUpdated(ctx, id)
}
