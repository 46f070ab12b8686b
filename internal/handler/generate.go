package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
)

// translation runs inside the request, so the budget is wider than usual
const generateTimeout = 60 * time.Second

type GenerateRequest struct {
	ID           string          `json:"id"`
	KoreanPrompt string          `json:"koreanPrompt" binding:"required"`
	UserEmail    string          `json:"userEmail"`
	Config       *GenerateConfig `json:"config"`
}

type GenerateConfig struct {
	TranslationModel  string `json:"translationModel"`
	SystemInstruction string `json:"systemInstruction"`
	UserPrompt        string `json:"userPrompt"`
	GenerationModel   string `json:"generationModel"`
	DurationSeconds   int    `json:"durationSeconds"`
	AspectRatio       string `json:"aspectRatio"`
	GenerateAudio     *bool  `json:"generateAudio"`
	NegativePrompt    string `json:"negativePrompt"`
	EnhancePrompt     *bool  `json:"enhancePrompt"`
	PersonGeneration  string `json:"personGeneration"`
}

type GenerateResponse struct {
	ID            string        `json:"id"`
	Status        models.Status `json:"status"`
	EnglishPrompt string        `json:"englishPrompt"`
}

func (r GenerateRequest) toStart() generation.StartRequest {
	req := generation.StartRequest{
		ID:           r.ID,
		KoreanPrompt: r.KoreanPrompt,
		UserEmail:    r.UserEmail,
	}
	req.Config.Video.EnhancePrompt = true
	if c := r.Config; c != nil {
		req.Config.TranslationModel = c.TranslationModel
		req.Config.SystemInstruction = c.SystemInstruction
		req.Config.UserPrompt = c.UserPrompt
		req.Config.Video.Model = c.GenerationModel
		req.Config.Video.DurationSeconds = c.DurationSeconds
		req.Config.Video.AspectRatio = c.AspectRatio
		req.Config.Video.NegativePrompt = c.NegativePrompt
		req.Config.Video.PersonGeneration = c.PersonGeneration
		if c.GenerateAudio != nil {
			req.Config.Video.GenerateAudio = *c.GenerateAudio
		}
		if c.EnhancePrompt != nil {
			req.Config.Video.EnhancePrompt = *c.EnhancePrompt
		}
	}
	return req
}

func (h *Handler) Generate(c *gin.Context) {
	var body GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), generateTimeout)
	defer cancel()

	rec, err := h.generator.Start(ctx, body.toStart())
	if err != nil {
		var verr *generation.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		case errors.Is(err, generation.ErrGenerationDisabled):
			c.JSON(http.StatusForbidden, gin.H{"error": "Video generation is currently disabled"})
		default:
			h.logger.Error("generation start failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, GenerateResponse{
		ID:            rec.ID,
		Status:        rec.Status,
		EnglishPrompt: rec.EnglishPrompt,
	})
}

type ModelInfo struct {
	ID           string              `json:"id"`
	Family       string              `json:"family"`
	Capabilities models.Capabilities `json:"capabilities"`
}

func (h *Handler) ListModels(c *gin.Context) {
	known := models.KnownModels()
	out := make([]ModelInfo, 0, len(known))
	for _, id := range known {
		family := models.FamilyOf(id)
		caps, ok := family.Capabilities()
		if !ok {
			continue
		}
		out = append(out, ModelInfo{ID: id, Family: family.String(), Capabilities: caps})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}
