package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kktae/veo-dashboard-sub000/internal/limiter"
)

type fakeStore struct {
	buckets map[string]bool
	objects map[string][]byte
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeStore) ObjectExists(ctx context.Context, bucket, object string) (bool, int64, error) {
	data, ok := f.objects[bucket+"/"+object]
	return ok, int64(len(data)), nil
}

func (f *fakeStore) DownloadFile(ctx context.Context, bucket, object, filePath string) error {
	return os.WriteFile(filePath, f.objects[bucket+"/"+object], 0o644)
}

type fakeAnalyzer struct {
	analysis  Analysis
	err       error
	block     bool
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	hold      time.Duration
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, videoPath, thumbnailPath string) (*Analysis, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if f.err != nil {
		return nil, f.err
	}
	a := f.analysis
	if a.ThumbnailWritten {
		if err := os.WriteFile(thumbnailPath, []byte("jpeg"), 0o644); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func newTestProcessor(t *testing.T, store ObjectStore, analyzer Analyzer, cfg Config) *Processor {
	t.Helper()
	if cfg.PublicDir == "" {
		cfg.PublicDir = t.TempDir()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	p := NewProcessor(store, analyzer, limiter.New(3), cfg, nil)
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return p
}

func defaultStore() *fakeStore {
	return &fakeStore{
		buckets: map[string]bool{"veo-out": true},
		objects: map[string][]byte{"veo-out/gen/sample_0.mp4": []byte("not really an mp4")},
	}
}

func TestProcess_PublishesVideoAndThumbnail(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: Analysis{DurationSeconds: 7.9, Width: 1280, Height: 720, ThumbnailWritten: true}}
	scratch := t.TempDir()
	p := newTestProcessor(t, defaultStore(), analyzer, Config{TempDir: scratch})

	res, err := p.Process(context.Background(), "gs://veo-out/gen/sample_0.mp4", "abc-123")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.VideoURL != "/videos/abc-123.mp4" {
		t.Errorf("VideoURL = %q", res.VideoURL)
	}
	if res.ThumbnailURL != "/thumbnails/abc-123.jpg" {
		t.Errorf("ThumbnailURL = %q", res.ThumbnailURL)
	}
	if res.Duration == nil || *res.Duration != 8 {
		t.Errorf("Duration = %v, want 8", res.Duration)
	}
	if res.Resolution == nil || *res.Resolution != "1280x720" {
		t.Errorf("Resolution = %v, want 1280x720", res.Resolution)
	}

	video, thumb := p.HasLocalFiles("abc-123")
	if !video || !thumb {
		t.Errorf("HasLocalFiles = %v, %v", video, thumb)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp directory not cleaned up: %d entries left", len(entries))
	}
}

func TestProcess_MissingObject(t *testing.T) {
	p := newTestProcessor(t, defaultStore(), &fakeAnalyzer{}, Config{})

	_, err := p.Process(context.Background(), "gs://veo-out/gen/missing.mp4", "abc")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestProcess_MissingBucket(t *testing.T) {
	p := newTestProcessor(t, defaultStore(), &fakeAnalyzer{}, Config{})

	_, err := p.Process(context.Background(), "gs://other-bucket/a.mp4", "abc")
	if !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("err = %v, want ErrBucketNotFound", err)
	}
}

func TestProcess_InvalidURI(t *testing.T) {
	p := newTestProcessor(t, defaultStore(), &fakeAnalyzer{}, Config{})

	for _, uri := range []string{"", "http://veo-out/a.mp4", "gs://veo-out", "gs://veo-out/dir/"} {
		if _, err := p.Process(context.Background(), uri, "abc"); !errors.Is(err, ErrInvalidURI) {
			t.Errorf("Process(%q) err = %v, want ErrInvalidURI", uri, err)
		}
	}
}

func TestProcess_EmptyDownload(t *testing.T) {
	store := defaultStore()
	store.objects["veo-out/empty.mp4"] = nil
	scratch := t.TempDir()
	p := newTestProcessor(t, store, &fakeAnalyzer{}, Config{TempDir: scratch})

	_, err := p.Process(context.Background(), "gs://veo-out/empty.mp4", "abc")
	if !errors.Is(err, ErrEmptyDownload) {
		t.Fatalf("err = %v, want ErrEmptyDownload", err)
	}
	if video, _ := p.HasLocalFiles("abc"); video {
		t.Error("empty download must not be published")
	}
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Errorf("temp directory not cleaned up after failure")
	}
}

func TestProcess_AnalysisFailureIsTolerated(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("ffprobe: invalid data found")}
	p := newTestProcessor(t, defaultStore(), analyzer, Config{})

	res, err := p.Process(context.Background(), "gs://veo-out/gen/sample_0.mp4", "abc")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.VideoURL == "" {
		t.Error("video should still be published")
	}
	if res.ThumbnailURL != "" || res.Duration != nil || res.Resolution != nil {
		t.Errorf("unexpected metadata: %+v", res)
	}
}

func TestProcess_AnalysisTimeout(t *testing.T) {
	analyzer := &fakeAnalyzer{block: true}
	p := newTestProcessor(t, defaultStore(), analyzer, Config{AnalysisTimeout: 50 * time.Millisecond})

	_, err := p.Process(context.Background(), "gs://veo-out/gen/sample_0.mp4", "abc")
	if !errors.Is(err, ErrAnalysisTimeout) {
		t.Fatalf("err = %v, want ErrAnalysisTimeout", err)
	}
	if video, _ := p.HasLocalFiles("abc"); video {
		t.Error("video must not be published after an analysis timeout")
	}
}

func TestProcess_InvalidResolutionDropped(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: Analysis{DurationSeconds: 8, Width: 1280, Height: 0}}
	p := newTestProcessor(t, defaultStore(), analyzer, Config{})

	res, err := p.Process(context.Background(), "gs://veo-out/gen/sample_0.mp4", "abc")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Resolution != nil {
		t.Errorf("Resolution = %q, want nil", *res.Resolution)
	}
	if res.Duration == nil || *res.Duration != 8 {
		t.Errorf("Duration = %v, want 8", res.Duration)
	}
	if res.ThumbnailURL != "" {
		t.Errorf("ThumbnailURL = %q, want empty", res.ThumbnailURL)
	}
}

func TestProcess_AnalysisBoundedByQueue(t *testing.T) {
	store := defaultStore()
	analyzer := &fakeAnalyzer{hold: 20 * time.Millisecond, analysis: Analysis{Width: 1, Height: 1}}
	p := newTestProcessor(t, store, analyzer, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "id-" + string(rune('a'+i))
			if _, err := p.Process(context.Background(), "gs://veo-out/gen/sample_0.mp4", id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Process: %v", err)
	}
	if got := analyzer.maxFlight.Load(); got > 3 {
		t.Errorf("max concurrent analyses = %d, want <= 3", got)
	}
	if got := analyzer.calls.Load(); got != 8 {
		t.Errorf("analysis calls = %d, want 8", got)
	}
}

func TestRemove(t *testing.T) {
	p := newTestProcessor(t, defaultStore(), &fakeAnalyzer{analysis: Analysis{ThumbnailWritten: true}}, Config{})
	if _, err := p.Process(context.Background(), "gs://veo-out/gen/sample_0.mp4", "gone"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := p.Remove("gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if video, thumb := p.HasLocalFiles("gone"); video || thumb {
		t.Errorf("files still present: %v %v", video, thumb)
	}
	if err := p.Remove("gone"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if err := p.Remove("../etc"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Remove traversal err = %v", err)
	}
}

func TestMoveFile_CreatesParent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "nested", "dst.bin")
	if err := moveFile(src, dst); err != nil {
		t.Fatalf("moveFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "payload" {
		t.Fatalf("dst = %q, %v", data, err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("src still exists")
	}
}
