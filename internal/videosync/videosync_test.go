package videosync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
)

type fakeStore struct {
	mu          sync.Mutex
	records     []models.Record
	listCalls   int
	resolutions map[string]string
}

func (f *fakeStore) ListByStatus(ctx context.Context, status models.Status) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []models.Record
	for _, r := range f.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateResolution(ctx context.Context, id, resolution string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolutions == nil {
		f.resolutions = make(map[string]string)
	}
	f.resolutions[id] = resolution
	return nil
}

// diskProcessor writes files under dir the way the media processor does.
type diskProcessor struct {
	dir        string
	mu         sync.Mutex
	calls      map[string]int
	fail       map[string]error
	gate       chan struct{}
	entered    chan string
	resolution string
	noThumb    map[string]bool
}

func newDiskProcessor(t *testing.T) *diskProcessor {
	dir := t.TempDir()
	for _, sub := range []string{"videos", "thumbnails"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &diskProcessor{dir: dir, calls: make(map[string]int), fail: make(map[string]error), resolution: "1280x720"}
}

func (p *diskProcessor) LocalPaths(id string) (string, string) {
	return filepath.Join(p.dir, "videos", id+".mp4"), filepath.Join(p.dir, "thumbnails", id+".jpg")
}

func (p *diskProcessor) HasLocalFiles(id string) (bool, bool) {
	v, th := p.LocalPaths(id)
	_, errV := os.Stat(v)
	_, errT := os.Stat(th)
	return errV == nil, errT == nil
}

func (p *diskProcessor) Process(ctx context.Context, uri, id string) (*media.Result, error) {
	p.mu.Lock()
	p.calls[id]++
	err := p.fail[id]
	p.mu.Unlock()

	if p.entered != nil {
		p.entered <- id
	}
	if p.gate != nil {
		<-p.gate
	}
	if err != nil {
		return nil, err
	}
	v, th := p.LocalPaths(id)
	if err := os.WriteFile(v, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	res := p.resolution
	if p.noThumb[id] {
		return &media.Result{VideoURL: "/videos/" + id + ".mp4", VideoPath: v, Resolution: &res}, nil
	}
	if err := os.WriteFile(th, []byte("thumb"), 0o644); err != nil {
		return nil, err
	}
	return &media.Result{VideoURL: "/videos/" + id + ".mp4", VideoPath: v, ThumbnailPath: th, Resolution: &res}, nil
}

func (p *diskProcessor) callCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func writeLocal(t *testing.T, p *diskProcessor, id string) {
	t.Helper()
	v, th := p.LocalPaths(id)
	if err := os.WriteFile(v, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(th, []byte("thumb"), 0o644); err != nil {
		t.Fatal(err)
	}
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) RecordUpdated(ctx context.Context, id string) {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
}

func completed(id, uri string) models.Record {
	return models.Record{ID: id, Status: models.StatusCompleted, GCSURI: uri, ThumbnailURL: "/thumbnails/" + id + ".jpg"}
}

func statusesOnly(all map[string]Entry) map[string]Status {
	out := make(map[string]Status, len(all))
	for id, e := range all {
		out[id] = e.Status
	}
	return out
}

func TestInitialize_ReconcilesAndIsIdempotent(t *testing.T) {
	proc := newDiskProcessor(t)
	writeLocal(t, proc, "present")
	store := &fakeStore{records: []models.Record{
		completed("present", "gs://veo-out/present.mp4"),
		completed("missing", "gs://veo-out/missing.mp4"),
		{ID: "no-uri", Status: models.StatusCompleted, ThumbnailURL: "/thumbnails/no-uri.jpg"},
		{ID: "pending", Status: models.StatusGenerating},
	}}
	svc := New(store, proc, nil)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	svc.Wait()
	first := statusesOnly(svc.All())

	want := map[string]Status{"present": StatusSynced, "missing": StatusSynced, "no-uri": StatusMissingGCS}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("statuses = %v, want %v", first, want)
	}
	if video, _ := proc.HasLocalFiles("missing"); !video {
		t.Error("missing video was not downloaded")
	}
	if proc.callCount("present") != 0 {
		t.Error("present video was downloaded again")
	}
	if store.resolutions["missing"] != "1280x720" {
		t.Errorf("resolution = %q", store.resolutions["missing"])
	}

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	svc.Wait()
	if got := statusesOnly(svc.All()); !reflect.DeepEqual(got, first) {
		t.Errorf("after second Initialize = %v, want %v", got, first)
	}
	if store.listCalls != 1 {
		t.Errorf("store listed %d times, want 1", store.listCalls)
	}
	if proc.callCount("missing") != 1 {
		t.Errorf("downloads = %d, want 1", proc.callCount("missing"))
	}
}

func TestInitialize_PassesThroughDownloading(t *testing.T) {
	proc := newDiskProcessor(t)
	proc.gate = make(chan struct{})
	proc.entered = make(chan string, 1)
	store := &fakeStore{records: []models.Record{completed("gone", "gs://veo-out/gone.mp4")}}
	svc := New(store, proc, nil)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-proc.entered
	if e, _ := svc.Status("gone"); e.Status != StatusDownloading {
		t.Errorf("status while downloading = %s", e.Status)
	}

	close(proc.gate)
	svc.Wait()

	e, ok := svc.Status("gone")
	if !ok || e.Status != StatusSynced {
		t.Fatalf("final entry = %+v", e)
	}
	if _, err := os.Stat(e.VideoPath); err != nil {
		t.Errorf("local file missing after sync: %v", err)
	}
}

func TestInitialize_DownloadFailure(t *testing.T) {
	proc := newDiskProcessor(t)
	proc.fail["broken"] = media.ErrObjectNotFound
	store := &fakeStore{records: []models.Record{completed("broken", "gs://veo-out/broken.mp4")}}
	svc := New(store, proc, nil)

	_ = svc.Initialize(context.Background())
	svc.Wait()

	e, _ := svc.Status("broken")
	if e.Status != StatusError || e.Error == "" {
		t.Errorf("entry = %+v", e)
	}
}

func TestInitialize_InvalidResolutionNotStored(t *testing.T) {
	proc := newDiskProcessor(t)
	proc.resolution = "unknown"
	store := &fakeStore{records: []models.Record{completed("r", "gs://veo-out/r.mp4")}}
	svc := New(store, proc, nil)

	_ = svc.Initialize(context.Background())
	svc.Wait()

	if _, ok := store.resolutions["r"]; ok {
		t.Error("invalid resolution written to store")
	}
}

func TestInitialize_MissingThumbnailOnlyWhenNeverProduced(t *testing.T) {
	proc := newDiskProcessor(t)
	v, _ := proc.LocalPaths("nothumb")
	if err := os.WriteFile(v, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{records: []models.Record{
		{ID: "nothumb", Status: models.StatusCompleted, GCSURI: "gs://veo-out/n.mp4"},
	}}
	svc := New(store, proc, nil)

	_ = svc.Initialize(context.Background())
	svc.Wait()

	e, _ := svc.Status("nothumb")
	if e.Status != StatusSynced || e.ThumbnailPath != "" {
		t.Errorf("entry = %+v", e)
	}
	if proc.callCount("nothumb") != 0 {
		t.Error("re-downloaded a video whose thumbnail never existed")
	}
}

func TestSyncNewVideo_BeforeInitialize(t *testing.T) {
	proc := newDiskProcessor(t)
	svc := New(&fakeStore{}, proc, nil)

	if err := svc.SyncNewVideo(context.Background(), "x", "gs://veo-out/x.mp4"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v", err)
	}
	if proc.callCount("x") != 0 {
		t.Error("processor called before initialization")
	}
	if len(svc.All()) != 0 {
		t.Error("status recorded before initialization")
	}
	if _, err := svc.Rescan(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Rescan err = %v", err)
	}
}

func TestSyncNewVideo_NoDuplicateDownloads(t *testing.T) {
	proc := newDiskProcessor(t)
	proc.gate = make(chan struct{})
	proc.entered = make(chan string, 2)
	svc := New(&fakeStore{}, proc, nil)
	_ = svc.Initialize(context.Background())

	errs := make(chan error, 1)
	go func() { errs <- svc.SyncNewVideo(context.Background(), "dup", "gs://veo-out/dup.mp4") }()
	<-proc.entered

	if err := svc.SyncNewVideo(context.Background(), "dup", "gs://veo-out/dup.mp4"); !errors.Is(err, ErrInProgress) {
		t.Errorf("second sync err = %v", err)
	}
	if err := svc.SyncInBackground(context.Background(), "dup", "gs://veo-out/dup.mp4"); !errors.Is(err, ErrInProgress) {
		t.Errorf("background sync err = %v", err)
	}

	close(proc.gate)
	if err := <-errs; err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if proc.callCount("dup") != 1 {
		t.Errorf("downloads = %d, want 1", proc.callCount("dup"))
	}
}

func TestVideoCompleted_SyncsInBackground(t *testing.T) {
	proc := newDiskProcessor(t)
	svc := New(&fakeStore{}, proc, nil)
	_ = svc.Initialize(context.Background())

	svc.VideoCompleted(context.Background(), "fresh", "gs://veo-out/fresh.mp4")
	svc.Wait()

	if e, _ := svc.Status("fresh"); e.Status != StatusSynced {
		t.Errorf("entry = %+v", e)
	}
}

func TestRescan(t *testing.T) {
	proc := newDiskProcessor(t)
	store := &fakeStore{records: []models.Record{completed("a", "gs://veo-out/a.mp4")}}
	svc := New(store, proc, nil)
	_ = svc.Initialize(context.Background())
	svc.Wait()

	v, th := proc.LocalPaths("a")
	_ = os.Remove(v)
	_ = os.Remove(th)

	n, err := svc.Rescan(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Rescan = %d, %v", n, err)
	}
	svc.Wait()
	if proc.callCount("a") != 2 {
		t.Errorf("downloads = %d, want 2", proc.callCount("a"))
	}
	svc.Forget("a")
	if _, ok := svc.Status("a"); ok {
		t.Error("entry kept after Forget")
	}
}

func TestSyncInBackground_RefusesRunningGeneration(t *testing.T) {
	proc := newDiskProcessor(t)
	svc := New(&fakeStore{}, proc, nil)
	_ = svc.Initialize(context.Background())
	svc.SetBusyCheck(func(id string) bool { return id == "busy" })

	if err := svc.SyncInBackground(context.Background(), "busy", "gs://veo-out/busy.mp4"); !errors.Is(err, ErrGenerating) {
		t.Fatalf("err = %v, want ErrGenerating", err)
	}
	if err := svc.SyncInBackground(context.Background(), "idle", "gs://veo-out/idle.mp4"); err != nil {
		t.Fatalf("idle sync: %v", err)
	}
	svc.Wait()

	if proc.callCount("busy") != 0 {
		t.Error("processor ran for a video still generating")
	}
	if _, ok := svc.Status("busy"); ok {
		t.Error("status recorded for a refused sync")
	}
	if proc.callCount("idle") != 1 {
		t.Errorf("idle downloads = %d, want 1", proc.callCount("idle"))
	}
}

func TestVideoCompleted_IgnoresBusyCheck(t *testing.T) {
	proc := newDiskProcessor(t)
	svc := New(&fakeStore{}, proc, nil)
	_ = svc.Initialize(context.Background())
	svc.SetBusyCheck(func(string) bool { return true })

	svc.VideoCompleted(context.Background(), "done", "gs://veo-out/done.mp4")
	svc.Wait()

	if e, _ := svc.Status("done"); e.Status != StatusSynced {
		t.Errorf("entry = %+v", e)
	}
}

func TestDownload_NotifiesResolutionUpdate(t *testing.T) {
	proc := newDiskProcessor(t)
	store := &fakeStore{records: []models.Record{completed("res", "gs://veo-out/res.mp4")}}
	notifier := &recordingNotifier{}
	svc := New(store, proc, nil)
	svc.SetNotifier(notifier)

	_ = svc.Initialize(context.Background())
	svc.Wait()

	if !reflect.DeepEqual(notifier.ids, []string{"res"}) {
		t.Errorf("notified ids = %v, want [res]", notifier.ids)
	}
}

func TestDownload_InvalidResolutionNotNotified(t *testing.T) {
	proc := newDiskProcessor(t)
	proc.resolution = "unknown"
	store := &fakeStore{records: []models.Record{completed("r", "gs://veo-out/r.mp4")}}
	notifier := &recordingNotifier{}
	svc := New(store, proc, nil)
	svc.SetNotifier(notifier)

	_ = svc.Initialize(context.Background())
	svc.Wait()

	if len(notifier.ids) != 0 {
		t.Errorf("notified ids = %v, want none", notifier.ids)
	}
}

func TestRescan_ThumbnailUnavailableDownloadsOnce(t *testing.T) {
	proc := newDiskProcessor(t)
	proc.noThumb = map[string]bool{"bare": true}
	store := &fakeStore{records: []models.Record{completed("bare", "gs://veo-out/bare.mp4")}}
	svc := New(store, proc, nil)

	_ = svc.Initialize(context.Background())
	svc.Wait()
	for i := 0; i < 2; i++ {
		if _, err := svc.Rescan(context.Background()); err != nil {
			t.Fatal(err)
		}
		svc.Wait()
	}

	if proc.callCount("bare") != 1 {
		t.Errorf("downloads = %d, want 1", proc.callCount("bare"))
	}
	e, _ := svc.Status("bare")
	if e.Status != StatusSynced || e.ThumbnailPath != "" {
		t.Errorf("entry = %+v", e)
	}

	// losing the video itself still triggers a download
	v, _ := proc.LocalPaths("bare")
	_ = os.Remove(v)
	_, _ = svc.Rescan(context.Background())
	svc.Wait()
	if proc.callCount("bare") != 2 {
		t.Errorf("downloads after video loss = %d, want 2", proc.callCount("bare"))
	}
}
