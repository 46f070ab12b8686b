package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
)

const (
	defaultPageLimit = 12
	maxPageLimit     = 100
)

type VideoResponse struct {
	*models.Record
	SourceURL string `json:"sourceUrl,omitempty"`
}

type ListResponse struct {
	Videos     []models.Record `json:"videos"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func (h *Handler) ListVideos(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	records, total, err := h.store.ListPage(ctx, page, limit)
	if err != nil {
		h.logger.Error("failed to list videos", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list videos"})
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	c.JSON(http.StatusOK, ListResponse{
		Videos:     records,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	})
}

func (h *Handler) GetVideo(c *gin.Context) {
	id := c.Param("id")
	if !media.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID format"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	key := recordCacheKey(id)
	var rec *models.Record
	if cached, err := h.cache.Get(ctx, key); err == nil {
		var r models.Record
		if err := json.Unmarshal([]byte(cached), &r); err == nil {
			rec = &r
		}
	}

	if rec == nil {
		r, err := h.store.GetRecord(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		} else if err != nil {
			h.logger.Error("failed to load video", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load video"})
			return
		}
		rec = r
		// an in-flight record may change before an invalidation lands
		if rec.Status.Terminal() {
			if data, err := json.Marshal(rec); err == nil {
				_ = h.cache.Set(ctx, key, string(data), recordCacheTTL)
			}
		}
	}

	// presigned links expire, so they are never cached
	resp := VideoResponse{Record: rec}
	if rec.Status == models.StatusCompleted {
		resp.SourceURL = h.sourceLink(ctx, rec)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) sourceLink(ctx context.Context, rec *models.Record) string {
	if h.presigner == nil || rec.GCSURI == "" {
		return ""
	}
	ref, err := media.ParseObjectURI(rec.GCSURI)
	if err != nil {
		return ""
	}
	link, err := h.presigner.GetFileLink(ctx, ref.Bucket, ref.Object, sourceLinkTTL)
	if err != nil {
		h.logger.Warn("failed to presign source video", zap.String("id", rec.ID), zap.Error(err))
		return ""
	}
	return link
}

func (h *Handler) DeleteVideo(c *gin.Context) {
	id := c.Param("id")
	if !media.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID format"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.store.Delete(ctx, id); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	} else if err != nil {
		h.logger.Error("failed to delete video", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete video"})
		return
	}
	h.cleanup(ctx, []string{id})

	c.JSON(http.StatusOK, gin.H{"id": id, "message": "Video deleted"})
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

func (h *Handler) BulkDelete(c *gin.Context) {
	var body BulkDeleteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if !body.All && len(body.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide ids or all=true"})
		return
	}
	for _, id := range body.IDs {
		if !media.ValidID(id) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID format: " + id})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var (
		deleted []string
		err     error
	)
	if body.All {
		deleted, err = h.store.DeleteAll(ctx)
	} else {
		deleted, err = h.store.DeleteMany(ctx, body.IDs)
	}
	if err != nil {
		h.logger.Error("bulk delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete videos"})
		return
	}
	h.cleanup(ctx, deleted)

	c.JSON(http.StatusOK, gin.H{"deleted": len(deleted)})
}

// cleanup removes everything derived from deleted records. Failures are
// logged; the records are already gone.
func (h *Handler) cleanup(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := h.files.Remove(id); err != nil {
			h.logger.Warn("failed to remove media files", zap.String("id", id), zap.Error(err))
		}
		h.sync.Forget(id)
		keys = append(keys, recordCacheKey(id))
	}
	if err := h.cache.Delete(ctx, keys...); err != nil {
		h.logger.Warn("failed to invalidate cache", zap.Int("count", len(keys)), zap.Error(err))
	}
}
