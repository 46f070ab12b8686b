// Package videosync keeps served video files in line with the completed
// records in the database, re-downloading anything that went missing.
package videosync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
)

var (
	ErrNotInitialized = errors.New("video sync has not been initialized")
	ErrInProgress     = errors.New("sync already in progress for this video")
	ErrGenerating     = errors.New("video generation is still running")
)

type Status string

const (
	StatusSynced      Status = "synced"
	StatusDownloading Status = "downloading"
	StatusError       Status = "error"
	StatusMissingGCS  Status = "missing_gcs"
)

type Entry struct {
	Status        Status    `json:"status"`
	VideoPath     string    `json:"videoPath,omitempty"`
	ThumbnailPath string    `json:"thumbnailPath,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Store interface {
	ListByStatus(ctx context.Context, status models.Status) ([]models.Record, error)
	UpdateResolution(ctx context.Context, id, resolution string) error
}

type Processor interface {
	Process(ctx context.Context, uri, id string) (*media.Result, error)
	LocalPaths(id string) (videoPath, thumbnailPath string)
	HasLocalFiles(id string) (video, thumbnail bool)
}

// Notifier hears about records a sync changed in the store.
type Notifier interface {
	RecordUpdated(ctx context.Context, id string)
}

type Service struct {
	store     Store
	processor Processor
	logger    *zap.Logger

	mu          sync.Mutex
	initialized bool
	entries     map[string]Entry
	inProgress  map[string]struct{}
	// videos whose last download produced no thumbnail
	thumbless map[string]struct{}
	running   func(id string) bool
	notifier  Notifier

	wg sync.WaitGroup
}

func New(store Store, processor Processor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		processor:  processor,
		logger:     logger.Named("videosync"),
		entries:    make(map[string]Entry),
		inProgress: make(map[string]struct{}),
		thumbless:  make(map[string]struct{}),
	}
}

// SetBusyCheck installs fn to report ids whose generation is still running.
// Such ids are refused by SyncInBackground.
func (s *Service) SetBusyCheck(fn func(id string) bool) {
	s.mu.Lock()
	s.running = fn
	s.mu.Unlock()
}

func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Initialize scans completed records once and dispatches a check for each.
// It returns as soon as the checks are started. Later calls do nothing.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		s.logger.Info("video sync already initialized")
		return nil
	}
	s.mu.Unlock()

	records, err := s.store.ListByStatus(ctx, models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to list completed videos: %w", err)
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	s.dispatch(ctx, records, "startup")
	return nil
}

// Rescan repeats the startup reconciliation on demand.
func (s *Service) Rescan(ctx context.Context) (int, error) {
	if !s.Initialized() {
		return 0, ErrNotInitialized
	}
	records, err := s.store.ListByStatus(ctx, models.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to list completed videos: %w", err)
	}
	s.dispatch(ctx, records, "rescan")
	return len(records), nil
}

func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Service) dispatch(ctx context.Context, records []models.Record, reason string) {
	runCtx := context.WithoutCancel(ctx)
	start := time.Now()
	var succeeded, failed atomic.Int64
	var batch sync.WaitGroup

	for _, r := range records {
		batch.Add(1)
		s.wg.Add(1)
		go func(r models.Record) {
			defer s.wg.Done()
			defer batch.Done()
			if s.check(runCtx, r) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
		}(r)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		batch.Wait()
		s.logger.Info("video sync finished",
			zap.String("reason", reason),
			zap.Int("total", len(records)),
			zap.Int64("succeeded", succeeded.Load()),
			zap.Int64("failed", failed.Load()),
			zap.Duration("elapsed", time.Since(start)))
	}()
	s.logger.Info("video sync dispatched", zap.String("reason", reason), zap.Int("records", len(records)))
}

// check reports whether r ends up with its files in place.
func (s *Service) check(ctx context.Context, r models.Record) bool {
	video, thumb := s.processor.HasLocalFiles(r.ID)
	// a record that never had a thumbnail only needs its video
	if video && (thumb || r.ThumbnailURL == "" || s.isThumbless(r.ID)) {
		s.markSynced(r.ID, thumb)
		return true
	}
	if r.GCSURI == "" {
		s.set(r.ID, Entry{Status: StatusMissingGCS, Error: "record has no storage URI to download from"})
		s.logger.Warn("completed video missing locally and has no storage URI", zap.String("id", r.ID))
		return false
	}
	if err := s.download(ctx, r.ID, r.GCSURI); err != nil {
		return false
	}
	return true
}

// SyncNewVideo makes sure the files for one freshly completed video are
// present, downloading them if needed.
func (s *Service) SyncNewVideo(ctx context.Context, id, uri string) error {
	if !s.Initialized() {
		s.logger.Warn("sync requested before initialization", zap.String("id", id))
		return ErrNotInitialized
	}
	if video, thumb := s.processor.HasLocalFiles(id); video {
		s.markSynced(id, thumb)
		return nil
	}
	if uri == "" {
		s.set(id, Entry{Status: StatusMissingGCS, Error: "record has no storage URI to download from"})
		return fmt.Errorf("no storage URI for %s", id)
	}
	return s.download(ctx, id, uri)
}

// SyncInBackground runs SyncNewVideo on its own goroutine. It fails fast
// when the service is not ready, the id is already downloading or its
// generation has not finished.
func (s *Service) SyncInBackground(ctx context.Context, id, uri string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running != nil && running(id) {
		return ErrGenerating
	}
	return s.background(ctx, id, uri)
}

func (s *Service) background(ctx context.Context, id, uri string) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if _, busy := s.inProgress[id]; busy {
		s.mu.Unlock()
		return ErrInProgress
	}
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.SyncNewVideo(runCtx, id, uri); err != nil && !errors.Is(err, ErrInProgress) {
			s.logger.Warn("background sync failed", zap.String("id", id), zap.Error(err))
		}
	}()
	return nil
}

func (s *Service) download(ctx context.Context, id, uri string) error {
	s.mu.Lock()
	if _, busy := s.inProgress[id]; busy {
		s.mu.Unlock()
		return ErrInProgress
	}
	s.inProgress[id] = struct{}{}
	s.entries[id] = Entry{Status: StatusDownloading, UpdatedAt: time.Now()}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inProgress, id)
		s.mu.Unlock()
	}()

	start := time.Now()
	log := s.logger.With(zap.String("id", id), zap.String("uri", uri))
	log.Info("re-downloading video")

	res, err := s.processor.Process(ctx, uri, id)
	if err != nil {
		s.set(id, Entry{Status: StatusError, Error: err.Error()})
		log.Error("video sync failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return err
	}

	if res.Resolution != nil {
		if models.ValidResolution(*res.Resolution) {
			if err := s.store.UpdateResolution(ctx, id, *res.Resolution); err != nil {
				log.Warn("failed to store resolution", zap.Error(err))
			} else {
				s.recordUpdated(ctx, id)
			}
		} else {
			log.Warn("ignoring invalid resolution", zap.String("resolution", *res.Resolution))
		}
	}

	s.mu.Lock()
	if res.ThumbnailPath == "" {
		s.thumbless[id] = struct{}{}
	} else {
		delete(s.thumbless, id)
	}
	s.mu.Unlock()

	s.set(id, Entry{Status: StatusSynced, VideoPath: res.VideoPath, ThumbnailPath: res.ThumbnailPath})
	log.Info("video synced", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Service) isThumbless(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.thumbless[id]
	return ok
}

func (s *Service) recordUpdated(ctx context.Context, id string) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.RecordUpdated(ctx, id)
	}
}

func (s *Service) markSynced(id string, haveThumb bool) {
	videoPath, thumbPath := s.processor.LocalPaths(id)
	if !haveThumb {
		thumbPath = ""
	}
	s.set(id, Entry{Status: StatusSynced, VideoPath: videoPath, ThumbnailPath: thumbPath})
}

func (s *Service) set(id string, e Entry) {
	e.UpdatedAt = time.Now()
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
}

// Status returns the sync entry for id.
func (s *Service) Status(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// All returns a snapshot of every tracked entry.
func (s *Service) All() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Forget drops the entry for a deleted record.
func (s *Service) Forget(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	delete(s.thumbless, id)
	s.mu.Unlock()
}

// Wait blocks until every dispatched check and background sync is done.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RecordUpdated is part of the generation notifier contract.
func (s *Service) RecordUpdated(context.Context, string) {}

// VideoCompleted syncs a video another component just finished. The
// generation that called it may still be in flight, so the busy check is
// skipped.
func (s *Service) VideoCompleted(ctx context.Context, id, gcsURI string) {
	if err := s.background(ctx, id, gcsURI); err != nil {
		s.logger.Warn("could not sync completed video", zap.String("id", id), zap.Error(err))
	}
}
