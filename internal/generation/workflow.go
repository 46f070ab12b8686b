package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
)

const (
	stageTranslate = "translate"
	stageGenerate  = "generate"
	stageProcess   = "process"
	stageComplete  = "complete"

	terminalWriteTimeout = 10 * time.Second
	defaultAspectRatio   = "16:9"
)

// Start validates req, creates the record and translates the prompt, then
// hands the rest of the work to the dispatcher. The returned record reflects
// the state after translation.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.Record, error) {
	if err := s.checkEnabled(ctx); err != nil {
		return nil, err
	}

	cfg := s.resolve(req.Config)
	req.KoreanPrompt = strings.TrimSpace(req.KoreanPrompt)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := validate(req, cfg); err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("id", req.ID))
	start := s.clock.Now()

	rec := &models.Record{
		ID:           req.ID,
		KoreanPrompt: req.KoreanPrompt,
		UserEmail:    req.UserEmail,
		Model:        cfg.Video.Model,
		AspectRatio:  cfg.Video.AspectRatio,
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, &StartError{Cause: err}
	}
	s.notifier.RecordUpdated(ctx, rec.ID)

	if err := s.store.AdvanceStatus(ctx, rec.ID, models.StatusTranslating); err != nil {
		s.fail(ctx, rec.ID, "Workflow start failed: "+err.Error())
		return nil, &StartError{Cause: err}
	}
	rec.Status = models.StatusTranslating

	english, err := s.translator.Translate(ctx, TranslationRequest{
		Model:             cfg.TranslationModel,
		SystemInstruction: cfg.SystemInstruction,
		UserPrompt:        cfg.UserPrompt,
		Text:              req.KoreanPrompt,
	})
	english = strings.TrimSpace(english)
	if err == nil && english == "" {
		err = errors.New("translation returned no text")
	}
	if err != nil {
		cause := fmt.Errorf("Translation failed: %w", err)
		log.Error("translation failed",
			zap.String("stage", stageTranslate),
			zap.Duration("elapsed", s.clock.Now().Sub(start)),
			zap.Error(err))
		s.fail(ctx, rec.ID, cause.Error())
		return nil, &StartError{Cause: cause}
	}

	if err := s.store.SetEnglishPrompt(ctx, rec.ID, english); err != nil {
		s.fail(ctx, rec.ID, "Workflow start failed: "+err.Error())
		return nil, &StartError{Cause: err}
	}
	rec.EnglishPrompt = english
	s.notifier.RecordUpdated(ctx, rec.ID)
	log.Info("prompt translated",
		zap.String("stage", stageTranslate),
		zap.Duration("elapsed", s.clock.Now().Sub(start)))

	task := Task{ID: rec.ID, EnglishPrompt: english, Options: cfg.Video}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		cause := fmt.Errorf("dispatch failed: %w", err)
		s.fail(ctx, rec.ID, "Workflow start failed: "+cause.Error())
		return nil, &StartError{Cause: cause}
	}
	return rec, nil
}

// Run executes the generate+process step for task with retries. Only one
// run per record id may be active in this process.
func (s *Service) Run(ctx context.Context, task Task) error {
	if !s.acquire(task.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, task.ID)
	}
	defer s.release(task.ID)
	return s.run(ctx, task)
}

func (s *Service) run(ctx context.Context, task Task) error {
	log := s.logger.With(zap.String("id", task.ID))
	start := s.clock.Now()

	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retry.Delay(attempt - 1)
			if _, err := s.store.IncrementRetry(ctx, task.ID); err != nil {
				log.Warn("failed to record retry", zap.Error(err))
			} else {
				s.notifier.RecordUpdated(ctx, task.ID)
			}
			log.Info("scheduling retry", zap.Int("retry", attempt), zap.Duration("delay", delay))
			if err := s.clock.Sleep(ctx, delay); err != nil {
				log.Warn("retry wait interrupted", zap.Int("retry", attempt), zap.Error(err))
				return err
			}
		}

		stage, err := s.attempt(ctx, task)
		if err == nil {
			log.Info("generation completed",
				zap.Int("retry", attempt),
				zap.Duration("elapsed", s.clock.Now().Sub(start)))
			return nil
		}
		lastErr = err

		log.Error("generation attempt failed",
			zap.String("stage", stage),
			zap.Int("retry", attempt),
			zap.Duration("elapsed", s.clock.Now().Sub(start)),
			zap.Error(err))

		if errors.Is(err, errAborted) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	message := fmt.Sprintf("%s (after %d retries)", lastErr.Error(), s.retry.MaxRetries)
	s.fail(ctx, task.ID, message)
	return errors.New(message)
}

// attempt runs one generate+process pass and reports the stage it stopped in.
func (s *Service) attempt(ctx context.Context, task Task) (string, error) {
	if err := s.markStage(ctx, task.ID, models.StatusGenerating); err != nil {
		return stageGenerate, err
	}

	op, err := s.generator.StartGeneration(ctx, task.EnglishPrompt, task.Options)
	if err != nil {
		return stageGenerate, fmt.Errorf("failed to start generation: %w", err)
	}
	uris, err := s.waiter.Wait(ctx, op, s.generator.Refresh)
	if err != nil {
		return stageGenerate, err
	}
	uri := uris[0]

	if err := s.markStage(ctx, task.ID, models.StatusProcessing); err != nil {
		return stageProcess, err
	}
	res, err := s.processor.Process(ctx, uri, task.ID)
	if err != nil {
		return stageProcess, fmt.Errorf("video processing failed: %w", err)
	}

	err = s.store.Complete(ctx, task.ID, models.Media{
		VideoURL:     res.VideoURL,
		ThumbnailURL: res.ThumbnailURL,
		GCSURI:       uri,
		Duration:     res.Duration,
		Resolution:   res.Resolution,
	})
	if err != nil {
		return stageComplete, fmt.Errorf("failed to save result: %w", err)
	}
	s.notifier.RecordUpdated(ctx, task.ID)
	s.notifier.VideoCompleted(ctx, task.ID, uri)
	return stageComplete, nil
}

// markStage advances the record to target unless it is already there or
// beyond; a retry never moves a record backwards.
func (s *Service) markStage(ctx context.Context, id string, target models.Status) error {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %w", errAborted, err)
		}
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: status is %s", errAborted, rec.Status)
	}
	if rec.Status.Reached(target) {
		return nil
	}
	if err := s.store.AdvanceStatus(ctx, id, target); err != nil {
		return err
	}
	s.notifier.RecordUpdated(ctx, id)
	return nil
}

// fail writes the terminal error even when ctx is already cancelled.
func (s *Service) fail(ctx context.Context, id, message string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	if err := s.store.Fail(wctx, id, message); err != nil {
		s.logger.Error("failed to record error status", zap.String("id", id), zap.Error(err))
		return
	}
	s.notifier.RecordUpdated(wctx, id)
}

func (s *Service) checkEnabled(ctx context.Context) error {
	value, err := s.store.GetSetting(ctx, models.SettingGenerationEnabled)
	if err != nil {
		// a missing row falls back to the seeded default
		if def, ok := models.DefaultSettings[models.SettingGenerationEnabled]; ok && errors.Is(err, store.ErrNotFound) {
			value = def
		} else {
			return fmt.Errorf("failed to read generation setting: %w", err)
		}
	}
	if value != "true" {
		return ErrGenerationDisabled
	}
	return nil
}

func (s *Service) resolve(c Config) Config {
	if c.TranslationModel == "" {
		c.TranslationModel = s.defaults.TranslationModel
	}
	if c.SystemInstruction == "" {
		c.SystemInstruction = s.defaults.SystemInstruction
	}
	if c.UserPrompt == "" {
		c.UserPrompt = s.defaults.UserPrompt
	}
	if c.Video.Model == "" {
		c.Video.Model = s.defaults.Video.Model
	}
	if c.Video.AspectRatio == "" {
		c.Video.AspectRatio = s.defaults.Video.AspectRatio
		if c.Video.AspectRatio == "" {
			c.Video.AspectRatio = defaultAspectRatio
		}
	}
	if c.Video.DurationSeconds == 0 {
		if caps, ok := models.FamilyOf(c.Video.Model).Capabilities(); ok {
			c.Video.DurationSeconds = caps.MaxDuration
		}
	}
	return c
}

func validate(req StartRequest, cfg Config) error {
	if req.KoreanPrompt == "" {
		return &ValidationError{Field: "koreanPrompt", Message: "prompt is required"}
	}
	if req.UserEmail == "" {
		return &ValidationError{Field: "userEmail", Message: "submitter is required"}
	}
	if !media.ValidID(req.ID) {
		return &ValidationError{Field: "id", Message: "must contain only letters, digits, '-' or '_'"}
	}
	if cfg.TranslationModel == "" {
		return &ValidationError{Field: "translationModel", Message: "translation model is required"}
	}
	if !strings.Contains(cfg.UserPrompt, "{prompt}") {
		return &ValidationError{Field: "userPrompt", Message: "translation template must contain {prompt}"}
	}
	if err := models.ValidateOptions(cfg.Video); err != nil {
		return &ValidationError{Field: "config", Message: err.Error()}
	}
	return nil
}
