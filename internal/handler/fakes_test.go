package handler

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kktae/veo-dashboard-sub000/internal/generation"
	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/internal/store"
	"github.com/kktae/veo-dashboard-sub000/internal/videosync"
	redisclient "github.com/kktae/veo-dashboard-sub000/pkg/database/redis"
)

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]*models.Record
	settings  map[string]string
	getCalls  int
	pageArgs  [2]int
	deleteErr error
	// afterGet runs once a read has been served, outside the lock
	afterGet func(id string)
}

func newFakeStore(recs ...models.Record) *fakeStore {
	s := &fakeStore{records: make(map[string]*models.Record), settings: make(map[string]string)}
	for i := range recs {
		r := recs[i]
		s.records[r.ID] = &r
	}
	return s
}

func (s *fakeStore) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	s.mu.Lock()
	s.getCalls++
	r, ok := s.records[id]
	var cp models.Record
	if ok {
		cp = *r
	}
	hook := s.afterGet
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	if hook != nil {
		hook(id)
	}
	return &cp, nil
}

func (s *fakeStore) setStatus(id string, status models.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = status
}

func (s *fakeStore) ListPage(ctx context.Context, page, limit int) ([]models.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageArgs = [2]int{page, limit}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.records[id])
	}
	return out, len(out), nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) DeleteMany(ctx context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteAll(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.records {
		out = append(out, id)
	}
	s.records = make(map[string]*models.Record)
	return out, nil
}

func (s *fakeStore) ListSettings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

type fakeGenerator struct {
	got generation.StartRequest
	rec *models.Record
	err error
}

func (g *fakeGenerator) Start(ctx context.Context, req generation.StartRequest) (*models.Record, error) {
	g.got = req
	if g.err != nil {
		return nil, g.err
	}
	return g.rec, nil
}

type syncCall struct{ id, uri string }

type fakeSync struct {
	mu          sync.Mutex
	initialized bool
	entries     map[string]videosync.Entry
	rescans     int
	calls       []syncCall
	forgotten   []string
	err         error
}

func (f *fakeSync) Initialized() bool { return f.initialized }

func (f *fakeSync) Status(id string) (videosync.Entry, bool) {
	e, ok := f.entries[id]
	return e, ok
}

func (f *fakeSync) All() map[string]videosync.Entry { return f.entries }

func (f *fakeSync) Rescan(ctx context.Context) (int, error) {
	if !f.initialized {
		return 0, videosync.ErrNotInitialized
	}
	f.rescans++
	return 3, nil
}

func (f *fakeSync) SyncInBackground(ctx context.Context, id, uri string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{id, uri})
	return nil
}

func (f *fakeSync) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

type dirFiles struct {
	dir     string
	removed []string
}

func (d *dirFiles) LocalPaths(id string) (string, string) {
	return filepath.Join(d.dir, "videos", id+".mp4"), filepath.Join(d.dir, "thumbnails", id+".jpg")
}

func (d *dirFiles) Remove(id string) error {
	d.removed = append(d.removed, id)
	v, t := d.LocalPaths(id)
	_ = os.Remove(v)
	_ = os.Remove(t)
	return nil
}

type memCache struct {
	mu      sync.Mutex
	data    map[string]string
	deleted []string
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (m *memCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redisclient.ErrCacheMiss
	}
	return v, nil
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], window, nil
}

type fakePresigner struct{}

func (fakePresigner) GetFileLink(ctx context.Context, bucket, object string, _ time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + object, nil
}
