package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/worker"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDownloader writes a real file per download so handlers can stream it.
type mockDownloader struct {
	dir     string
	content []byte
	title   string
	ext     string
	err     string
	block   chan struct{}
	vanish  bool

	mu       sync.Mutex
	requests []domain.DownloadRequest
	cleaned  []string
	produced []string
}

func newMockDownloader(t *testing.T) *mockDownloader {
	return &mockDownloader{
		dir:     t.TempDir(),
		content: []byte("media bytes"),
		title:   "Test Video",
	}
}

func (m *mockDownloader) Download(ctx context.Context, req domain.DownloadRequest) domain.DownloadResult {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}
	if m.err != "" {
		return domain.Failed(m.err)
	}

	ext := m.ext
	if ext == "" {
		ext = "mp4"
		if req.Kind == domain.KindAudio {
			ext = "mp3"
		}
	}
	path := filepath.Join(m.dir, fmt.Sprintf("artifact-%d.%s", n, ext))
	if err := os.WriteFile(path, m.content, 0o644); err != nil {
		return domain.Failed(domain.UnexpectedPrefix + err.Error())
	}
	if m.vanish {
		os.Remove(path)
	}

	m.mu.Lock()
	m.produced = append(m.produced, path)
	m.mu.Unlock()

	return domain.Succeeded(&domain.DownloadSuccess{
		FilePath: path,
		Title:    m.title,
		Duration: 212,
		Ext:      ext,
	})
}

func (m *mockDownloader) CleanupTempFiles(path string) bool {
	m.mu.Lock()
	m.cleaned = append(m.cleaned, path)
	m.mu.Unlock()
	return os.Remove(path) == nil
}

func (m *mockDownloader) cleanedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cleaned...)
}

func (m *mockDownloader) lastRequest() domain.DownloadRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return domain.DownloadRequest{}
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockDownloader) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockMetadata returns canned answers.
type mockMetadata struct {
	info    *domain.VideoMetadata
	listing *domain.FormatListing
	err     error
	urls    []string
}

func (m *mockMetadata) GetVideoInfo(ctx context.Context, url string) (*domain.VideoMetadata, error) {
	m.urls = append(m.urls, url)
	if m.err != nil {
		return nil, m.err
	}
	return m.info, nil
}

func (m *mockMetadata) GetAvailableFormats(ctx context.Context, url string) (*domain.FormatListing, error) {
	m.urls = append(m.urls, url)
	if m.err != nil {
		return nil, m.err
	}
	return m.listing, nil
}

// mockStore is an in-memory counter.Store.
type mockStore struct {
	mu       sync.Mutex
	counts   map[string]int64
	incErr   error
	statsErr error
	pingErr  error
}

func newMockStore() *mockStore {
	return &mockStore{counts: make(map[string]int64)}
}

func (m *mockStore) Increment(ctx context.Context, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return m.incErr
	}
	m.counts[day]++
	return nil
}

func (m *mockStore) Stats(ctx context.Context, day string) (*domain.DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	var total int64
	for _, n := range m.counts {
		total += n
	}
	return &domain.DailyStats{Day: day, DownloadsToday: m.counts[day], TotalDownloads: total}, nil
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockStore) Close() error                   { return nil }

func (m *mockStore) count(day string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[day]
}

var errStoreDown = errors.New("connection refused")

func startPool(t *testing.T) *worker.Pool {
	t.Helper()
	pool := worker.NewPool(worker.Config{Workers: 2, QueueSize: 4}, testLogger())
	pool.Start()
	t.Cleanup(func() { pool.Stop(time.Second) })
	return pool
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
