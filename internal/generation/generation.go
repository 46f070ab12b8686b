// Package generation drives a request through translate, generate and
// process, recording every transition in the status store.
package generation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/poller"
	"github.com/kktae/veo-dashboard-sub000/pkg/clock"
)

var (
	ErrGenerationDisabled = errors.New("video generation is currently disabled")
	ErrAlreadyRunning     = errors.New("generation already running for this record")
	errAborted            = errors.New("record is no longer eligible for generation")
)

// ValidationError is a client mistake detected before any work starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// StartError reports a failure of the synchronous part of Start.
type StartError struct {
	Cause error
}

func (e *StartError) Error() string { return "Workflow start failed: " + e.Cause.Error() }
func (e *StartError) Unwrap() error { return e.Cause }

type TranslationRequest struct {
	Model             string
	SystemInstruction string
	// UserPrompt is a template; "{prompt}" is replaced with Text.
	UserPrompt string
	Text       string
}

type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) (string, error)
}

// VideoGenerator starts a long-running generation and refreshes its handle.
type VideoGenerator interface {
	StartGeneration(ctx context.Context, prompt string, opts models.VideoOptions) (*poller.Operation, error)
	Refresh(ctx context.Context, op *poller.Operation) (*poller.Operation, error)
}

type Waiter interface {
	Wait(ctx context.Context, op *poller.Operation, refresh poller.RefreshFunc) ([]string, error)
}

type MediaProcessor interface {
	Process(ctx context.Context, uri, id string) (*media.Result, error)
}

type Store interface {
	CreateRecord(ctx context.Context, r *models.Record) error
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	AdvanceStatus(ctx context.Context, id string, to models.Status) error
	SetEnglishPrompt(ctx context.Context, id, prompt string) error
	Complete(ctx context.Context, id string, m models.Media) error
	Fail(ctx context.Context, id, message string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	GetSetting(ctx context.Context, key string) (string, error)
}

// Config is the per-request choice of models and prompt template.
type Config struct {
	TranslationModel  string
	SystemInstruction string
	UserPrompt        string
	Video             models.VideoOptions
}

type StartRequest struct {
	ID           string
	KoreanPrompt string
	UserEmail    string
	Config       Config
}

// Task is the asynchronous half of a request, as dispatched to a runner.
type Task struct {
	ID            string              `json:"id"`
	EnglishPrompt string              `json:"englishPrompt"`
	Options       models.VideoOptions `json:"options"`
}

type Deps struct {
	Store      Store
	Translator Translator
	Generator  VideoGenerator
	Waiter     Waiter
	Processor  MediaProcessor
	Notifier   Notifier
	Clock      clock.Clock
	Retry      RetryPolicy
}

type Service struct {
	store      Store
	translator Translator
	generator  VideoGenerator
	waiter     Waiter
	processor  MediaProcessor
	notifier   Notifier
	clock      clock.Clock
	retry      RetryPolicy
	defaults   Config
	logger     *zap.Logger

	dispatcher Dispatcher

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewService wires the orchestrator. Requests are run in-process until
// SetDispatcher installs another runner.
func NewService(deps Deps, defaults Config, logger *zap.Logger) *Service {
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Retry.Delay == nil {
		deps.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      deps.Store,
		translator: deps.Translator,
		generator:  deps.Generator,
		waiter:     deps.Waiter,
		processor:  deps.Processor,
		notifier:   deps.Notifier,
		clock:      deps.Clock,
		retry:      deps.Retry,
		defaults:   defaults,
		logger:     logger.Named("generation"),
		inFlight:   make(map[string]struct{}),
	}
	s.dispatcher = &LocalDispatcher{svc: s}
	return s
}

func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Wait blocks until every in-process run started by the local dispatcher
// has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Running reports whether id has an active generate+process run here.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[id]
	return ok
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}
