// Package media turns a generated object in cloud storage into files the
// dashboard can serve: the video itself, a thumbnail and basic metadata.
package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/limiter"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
)

var (
	ErrBucketNotFound  = errors.New("bucket not found")
	ErrObjectNotFound  = errors.New("object not found")
	ErrEmptyDownload   = errors.New("downloaded file is empty")
	ErrAnalysisTimeout = errors.New("media analysis timed out")
	ErrInvalidID       = errors.New("invalid record id")
)

const (
	DefaultAnalysisTimeout = 5 * time.Minute

	videosDir     = "videos"
	thumbnailsDir = "thumbnails"
)

// ObjectStore is the read side of object storage the processor needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ObjectExists(ctx context.Context, bucket, object string) (bool, int64, error)
	DownloadFile(ctx context.Context, bucket, object, filePath string) error
}

// Analysis is what an Analyzer learned about a local video file.
type Analysis struct {
	DurationSeconds float64
	Width           int
	Height          int
	Codec           string
	// ThumbnailWritten is false when the frame grab failed but probing worked.
	ThumbnailWritten bool
}

// Analyzer probes videoPath and writes a JPEG thumbnail to thumbnailPath.
// It must stop promptly when ctx is done.
type Analyzer interface {
	Analyze(ctx context.Context, videoPath, thumbnailPath string) (*Analysis, error)
}

type Config struct {
	// PublicDir is the served root holding videos/ and thumbnails/.
	PublicDir string
	// TempDir is where per-call scratch directories are created; empty means os.TempDir.
	TempDir         string
	AnalysisTimeout time.Duration
}

type Result struct {
	VideoURL      string
	ThumbnailURL  string
	Duration      *int
	Resolution    *string
	VideoPath     string
	ThumbnailPath string
}

type Processor struct {
	store    ObjectStore
	analyzer Analyzer
	queue    *limiter.Queue
	cfg      Config
	logger   *zap.Logger
}

func NewProcessor(store ObjectStore, analyzer Analyzer, queue *limiter.Queue, cfg Config, logger *zap.Logger) *Processor {
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if queue == nil {
		queue = limiter.New(limiter.DefaultLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		analyzer: analyzer,
		queue:    queue,
		cfg:      cfg,
		logger:   logger.Named("media"),
	}
}

// EnsureDirs creates the served directories.
func (p *Processor) EnsureDirs() error {
	for _, dir := range []string{videosDir, thumbnailsDir} {
		if err := os.MkdirAll(filepath.Join(p.cfg.PublicDir, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return nil
}

// LocalPaths returns where the served files for id live.
func (p *Processor) LocalPaths(id string) (videoPath, thumbnailPath string) {
	return filepath.Join(p.cfg.PublicDir, videosDir, id+".mp4"),
		filepath.Join(p.cfg.PublicDir, thumbnailsDir, id+".jpg")
}

// HasLocalFiles reports whether the served video and thumbnail exist.
func (p *Processor) HasLocalFiles(id string) (video, thumbnail bool) {
	videoPath, thumbPath := p.LocalPaths(id)
	return fileExists(videoPath), fileExists(thumbPath)
}

// Remove deletes the served files for id. Missing files are not an error.
func (p *Processor) Remove(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	videoPath, thumbPath := p.LocalPaths(id)
	var errs []error
	for _, path := range []string{videoPath, thumbPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Process downloads the object at uri, analyzes it and publishes the video
// (and, when possible, a thumbnail) under the served directory for id.
func (p *Processor) Process(ctx context.Context, uri, id string) (*Result, error) {
	start := time.Now()
	log := p.logger.With(zap.String("id", id), zap.String("uri", uri))

	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	ref, err := ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}

	exists, err := p.store.BucketExists(ctx, ref.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", ref.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, ref.Bucket)
	}
	found, size, err := p.store.ObjectExists(ctx, ref.Bucket, ref.Object)
	if err != nil {
		return nil, fmt.Errorf("failed to check object %s: %w", ref, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	log.Debug("object located", zap.Int64("size", size))

	workDir, err := os.MkdirTemp(p.cfg.TempDir, "veo-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove temp directory", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	tmpVideo := filepath.Join(workDir, "video.mp4")
	tmpThumb := filepath.Join(workDir, "thumbnail.jpg")

	downloadStart := time.Now()
	if err := p.store.DownloadFile(ctx, ref.Bucket, ref.Object, tmpVideo); err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", ref, err)
	}
	info, err := os.Stat(tmpVideo)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDownload, ref)
	}
	log.Info("video downloaded",
		zap.String("stage", "download"),
		zap.Int64("bytes", info.Size()),
		zap.Duration("elapsed", time.Since(downloadStart)))

	analysis, err := p.analyze(ctx, tmpVideo, tmpThumb)
	if err != nil {
		if errors.Is(err, ErrAnalysisTimeout) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn("media analysis failed, continuing without metadata", zap.Error(err))
		analysis = nil
	}

	videoPath, thumbPath := p.LocalPaths(id)
	if err := moveFile(tmpVideo, videoPath); err != nil {
		return nil, fmt.Errorf("failed to publish video: %w", err)
	}

	result := &Result{
		VideoURL:  "/" + videosDir + "/" + id + ".mp4",
		VideoPath: videoPath,
	}

	if analysis != nil && analysis.ThumbnailWritten && fileExists(tmpThumb) {
		if err := moveFile(tmpThumb, thumbPath); err != nil {
			log.Warn("failed to publish thumbnail", zap.Error(err))
		} else {
			result.ThumbnailURL = "/" + thumbnailsDir + "/" + id + ".jpg"
			result.ThumbnailPath = thumbPath
		}
	}

	if analysis != nil {
		if analysis.DurationSeconds > 0 {
			d := int(math.Round(analysis.DurationSeconds))
			if models.ValidDuration(d) {
				result.Duration = &d
			}
		}
		if analysis.Width > 0 || analysis.Height > 0 {
			res := fmt.Sprintf("%dx%d", analysis.Width, analysis.Height)
			if models.ValidResolution(res) && analysis.Width > 0 && analysis.Height > 0 {
				result.Resolution = &res
			} else {
				log.Warn("dropping invalid resolution", zap.String("resolution", res))
			}
		}
	}

	log.Info("media processed",
		zap.String("stage", "process"),
		zap.Bool("thumbnail", result.ThumbnailURL != ""),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (p *Processor) analyze(ctx context.Context, videoPath, thumbPath string) (*Analysis, error) {
	timeout := p.cfg.AnalysisTimeout
	return limiter.Do(ctx, p.queue, func(ctx context.Context) (*Analysis, error) {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		started := time.Now()
		analysis, err := p.analyzer.Analyze(actx, videoPath, thumbPath)
		if err != nil {
			if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrAnalysisTimeout, timeout)
			}
			return nil, err
		}
		p.logger.Debug("analysis finished", zap.String("stage", "analyze"), zap.Duration("elapsed", time.Since(started)))
		return analysis, nil
	})
}
