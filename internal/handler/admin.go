package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/pkg/security"
)

type LoginRequest struct {
	Key string `json:"key" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var body LoginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	token, expires, err := h.admin.Login(body.Key)
	switch {
	case errors.Is(err, security.ErrAdminDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case errors.Is(err, security.ErrInvalidKey):
		h.logger.Warn("admin login rejected", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("admin login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expires})
}

func (h *Handler) ListSettings(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	settings, err := h.store.ListSettings(ctx)
	if err != nil {
		h.logger.Error("failed to list settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list settings"})
		return
	}
	if settings == nil {
		settings = make(map[string]string)
	}
	for key, value := range models.DefaultSettings {
		if _, ok := settings[key]; !ok {
			settings[key] = value
		}
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

type SettingRequest struct {
	Value *string `json:"value" binding:"required"`
}

func (h *Handler) PutSetting(c *gin.Context) {
	key := c.Param("key")
	if _, known := models.DefaultSettings[key]; !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown setting"})
		return
	}
	var body SettingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	value := *body.Value
	if key == models.SettingGenerationEnabled {
		b, err := strconv.ParseBool(value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Value must be true or false"})
			return
		}
		value = strconv.FormatBool(b)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.store.SetSetting(ctx, key, value); err != nil {
		h.logger.Error("failed to save setting", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save setting"})
		return
	}
	h.logger.Info("setting updated", zap.String("key", key), zap.String("value", value))
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}
