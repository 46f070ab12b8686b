package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/poller"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
)

// memStore enforces the same forward-only rule as the Postgres store and
// keeps every status each record passed through.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*models.Record
	history  map[string][]models.Status
	settings map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[string]*models.Record),
		history:  make(map[string][]models.Status),
		settings: map[string]string{models.SettingGenerationEnabled: "true"},
	}
}

func (m *memStore) CreateRecord(ctx context.Context, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return store.ErrDuplicate
	}
	r.Status = models.StatusPending
	r.CreatedAt = time.Now()
	cp := *r
	m.records[r.ID] = &cp
	m.history[r.ID] = []models.Status{models.StatusPending}
	return nil
}

func (m *memStore) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) transition(id string, to models.Status) (*models.Record, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if !models.CanTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidTransition, models.TransitionError(id, r.Status, to))
	}
	r.Status = to
	m.history[id] = append(m.history[id], to)
	return r, nil
}

func (m *memStore) AdvanceStatus(ctx context.Context, id string, to models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.transition(id, to)
	return err
}

func (m *memStore) SetEnglishPrompt(ctx context.Context, id, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.EnglishPrompt = prompt
	return nil
}

func (m *memStore) Complete(ctx context.Context, id string, md models.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.transition(id, models.StatusCompleted)
	if err != nil {
		return err
	}
	now := time.Now()
	r.CompletedAt = &now
	r.VideoURL = md.VideoURL
	r.ThumbnailURL = md.ThumbnailURL
	r.GCSURI = md.GCSURI
	r.Duration = md.Duration
	if md.Resolution != nil && models.ValidResolution(*md.Resolution) {
		r.Resolution = md.Resolution
	}
	return nil
}

func (m *memStore) Fail(ctx context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.transition(id, models.StatusError)
	if err != nil {
		return err
	}
	r.ErrorMessage = message
	return nil
}

func (m *memStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	r.RetryCount++
	return r.RetryCount, nil
}

func (m *memStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) statuses(id string) []models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Status(nil), m.history[id]...)
}

type fakeTranslator struct {
	text string
	err  error
	got  []TranslationRequest
}

func (f *fakeTranslator) Translate(ctx context.Context, req TranslationRequest) (string, error) {
	f.got = append(f.got, req)
	return f.text, f.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	starts  int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeGenerator) StartGeneration(ctx context.Context, prompt string, opts models.VideoOptions) (*poller.Operation, error) {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return &poller.Operation{Name: "operations/test"}, nil
}

func (f *fakeGenerator) Refresh(ctx context.Context, op *poller.Operation) (*poller.Operation, error) {
	return &poller.Operation{Name: op.Name, Done: true, Results: []string{"gs://veo-out/test/sample_0.mp4"}}, nil
}

func (f *fakeGenerator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeWaiter struct {
	results []string
	err     error
}

func (f *fakeWaiter) Wait(ctx context.Context, op *poller.Operation, refresh poller.RefreshFunc) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakeProcessor fails the first failures calls.
type fakeProcessor struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (f *fakeProcessor) Process(ctx context.Context, uri, id string) (*media.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("failed to publish video: rename: permission denied")
	}
	d := 8
	res := "1280x720"
	return &media.Result{
		VideoURL:     "/videos/" + id + ".mp4",
		ThumbnailURL: "/thumbnails/" + id + ".jpg",
		Duration:     &d,
		Resolution:   &res,
	}, nil
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu        sync.Mutex
	updated   []string
	completed []string
}

func (r *recordingNotifier) RecordUpdated(ctx context.Context, id string) {
	r.mu.Lock()
	r.updated = append(r.updated, id)
	r.mu.Unlock()
}

func (r *recordingNotifier) VideoCompleted(ctx context.Context, id, gcsURI string) {
	r.mu.Lock()
	r.completed = append(r.completed, id+"="+gcsURI)
	r.mu.Unlock()
}

type fakePublisher struct {
	mu   sync.Mutex
	sent map[string][]any
	err  error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, queue string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string][]any)
	}
	f.sent[queue] = append(f.sent[queue], v)
	return nil
}
