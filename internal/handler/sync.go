package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
	"github.com/kktae/veo-dashboard-sub000/internal/videosync"
)

func (h *Handler) SyncStatus(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		entry, ok := h.sync.Status(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "No sync status for this video"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "entry": entry})
		return
	}
	resp := gin.H{
		"initialized": h.sync.Initialized(),
		"videos":      h.sync.All(),
	}
	if h.queue != nil {
		resp["mediaQueue"] = h.queue.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

type SyncRequest struct {
	ID     string `json:"id"`
	GCSURI string `json:"gcsUri"`
}

// Sync downloads one video when an id is given and rescans every completed
// video otherwise.
func (h *Handler) Sync(c *gin.Context) {
	var body SyncRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if body.ID == "" {
		n, err := h.sync.Rescan(ctx)
		if err != nil {
			h.syncError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Rescan started", "count": n})
		return
	}

	if !media.ValidID(body.ID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID format"})
		return
	}
	rec, err := h.store.GetRecord(ctx, body.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	} else if err != nil {
		h.logger.Error("failed to load video", zap.String("id", body.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load video"})
		return
	}
	if rec.Status != models.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Video is not completed"})
		return
	}
	// the stored URI is the only download source
	if body.GCSURI != "" && body.GCSURI != rec.GCSURI {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gcsUri does not match the stored video"})
		return
	}

	if err := h.sync.SyncInBackground(c.Request.Context(), body.ID, rec.GCSURI); err != nil {
		h.syncError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Sync started", "id": body.ID})
}

func (h *Handler) syncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, videosync.ErrNotInitialized), errors.Is(err, videosync.ErrInProgress),
		errors.Is(err, videosync.ErrGenerating):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("sync request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed"})
	}
}
