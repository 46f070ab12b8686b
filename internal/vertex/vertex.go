// Package vertex adapts the Google Gen AI SDK to the translation and video
// generation interfaces used by the generation workflow.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/poller"
)

const promptPlaceholder = "{prompt}"

type Config struct {
	Project  string
	Location string
	// APIKey selects the Gemini API backend instead of Vertex AI.
	APIKey       string
	OutputGCSURI string
}

// NewClient builds a genai client for Vertex AI, or for the Gemini API when
// an API key is configured.
func NewClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	cc := &genai.ClientConfig{}
	if cfg.APIKey != "" {
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	} else {
		if cfg.Project == "" {
			return nil, errors.New("GOOGLE_CLOUD_PROJECT is required for Vertex AI")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// Translator translates prompts with a Gemini model.
type Translator struct {
	client *genai.Client
	logger *zap.Logger
}

func NewTranslator(client *genai.Client, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{client: client, logger: logger.Named("translator")}
}

var safetyOff = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

func (t *Translator) Translate(ctx context.Context, req generation.TranslationRequest) (string, error) {
	prompt := RenderPrompt(req.UserPrompt, req.Text)

	cfg := &genai.GenerateContentConfig{SafetySettings: safetyOff}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := t.client.Models.GenerateContent(ctx, req.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("translation response contained no text")
	}
	t.logger.Debug("translated prompt", zap.String("model", req.Model), zap.Int("chars", len(text)))
	return text, nil
}

// RenderPrompt substitutes text into template. A template without the
// placeholder gets the text appended on a new line.
func RenderPrompt(template, text string) string {
	if template == "" {
		return text
	}
	if !strings.Contains(template, promptPlaceholder) {
		return template + "\n" + text
	}
	return strings.ReplaceAll(template, promptPlaceholder, text)
}

// Generator starts Veo generations and refreshes their operations.
type Generator struct {
	client       *genai.Client
	outputGCSURI string
	logger       *zap.Logger
}

func NewGenerator(client *genai.Client, outputGCSURI string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, outputGCSURI: outputGCSURI, logger: logger.Named("generator")}
}

func (g *Generator) StartGeneration(ctx context.Context, prompt string, opts models.VideoOptions) (*poller.Operation, error) {
	op, err := g.client.Models.GenerateVideos(ctx, opts.Model, prompt, nil, VideosConfig(opts, g.outputGCSURI))
	if err != nil {
		return nil, fmt.Errorf("generate videos: %w", err)
	}
	g.logger.Info("generation started", zap.String("operation", op.Name), zap.String("model", opts.Model))
	return FromOperation(op), nil
}

func (g *Generator) Refresh(ctx context.Context, op *poller.Operation) (*poller.Operation, error) {
	raw, ok := op.Raw.(*genai.GenerateVideosOperation)
	if !ok {
		raw = &genai.GenerateVideosOperation{Name: op.Name}
	}
	next, err := g.client.Operations.GetVideosOperation(ctx, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", op.Name, err)
	}
	return FromOperation(next), nil
}

// VideosConfig maps caller options onto the SDK request.
func VideosConfig(opts models.VideoOptions, outputGCSURI string) *genai.GenerateVideosConfig {
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos:   1,
		OutputGCSURI:     outputGCSURI,
		AspectRatio:      opts.AspectRatio,
		NegativePrompt:   opts.NegativePrompt,
		EnhancePrompt:    opts.EnhancePrompt,
		PersonGeneration: opts.PersonGeneration,
	}
	if opts.DurationSeconds > 0 {
		d := int32(opts.DurationSeconds)
		cfg.DurationSeconds = &d
	}
	if caps, ok := models.FamilyOf(opts.Model).Capabilities(); ok && caps.SupportsAudio {
		audio := opts.GenerateAudio
		cfg.GenerateAudio = &audio
	}
	return cfg
}

// FromOperation converts an SDK operation into a poller handle.
func FromOperation(op *genai.GenerateVideosOperation) *poller.Operation {
	out := &poller.Operation{Name: op.Name, Done: op.Done, Raw: op}
	if len(op.Error) > 0 {
		out.Err = operationError(op.Error)
	}
	if op.Response != nil {
		for _, v := range op.Response.GeneratedVideos {
			if v != nil && v.Video != nil && v.Video.URI != "" {
				out.Results = append(out.Results, v.Video.URI)
			}
		}
		if op.Done && len(out.Results) == 0 && op.Response.RAIMediaFilteredCount > 0 {
			out.Err = fmt.Errorf("%w: %d video(s) blocked by safety filters: %s",
				poller.ErrNoVideosGenerated,
				op.Response.RAIMediaFilteredCount,
				strings.Join(op.Response.RAIMediaFilteredReasons, "; "))
		}
	}
	return out
}

func operationError(e map[string]any) error {
	msg, _ := e["message"].(string)
	if msg == "" {
		msg = "operation failed"
	}
	if code, ok := e["code"]; ok {
		return fmt.Errorf("%s (code %v)", msg, code)
	}
	return errors.New(msg)
}
