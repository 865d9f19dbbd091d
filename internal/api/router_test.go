package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/vidfetch/internal/api/handler"
	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/counter"
	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubDownloader struct{}

func (stubDownloader) Download(ctx context.Context, req domain.DownloadRequest) domain.DownloadResult {
	return domain.Failed("ERROR: Unsupported URL: " + req.URL)
}

func (stubDownloader) CleanupTempFiles(string) bool { return true }

type stubMetadata struct{}

func (stubMetadata) GetVideoInfo(ctx context.Context, url string) (*domain.VideoMetadata, error) {
	return &domain.VideoMetadata{Title: "stub"}, nil
}

func (stubMetadata) GetAvailableFormats(ctx context.Context, url string) (*domain.FormatListing, error) {
	return &domain.FormatListing{Title: "stub"}, nil
}

func newTestRouter(t *testing.T, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.TempPath = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	pool := worker.NewPool(worker.Config{Workers: 1, QueueSize: 1}, testLogger())
	pool.Start()
	t.Cleanup(func() { pool.Stop(time.Second) })

	store := counter.Noop{}
	media := handler.NewMediaHandler(stubDownloader{}, stubMetadata{}, pool, store, handler.MediaOptions{}, testLogger())
	stats := handler.NewStatsHandler(store, testLogger())
	health := handler.NewHealthHandler(store, pool, cfg.Storage.TempPath)

	return NewRouter(media, stats, health, cfg, testLogger())
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "//ready", "", http.StatusOK},
		{http.MethodGet, "/info?url=x", "", http.StatusOK},
		{http.MethodGet, "/video-info?url=x", "", http.StatusOK},
		{http.MethodGet, "/formats?url=x", "", http.StatusOK},
		{http.MethodGet, "/available-formats?url=x", "", http.StatusOK},
		{http.MethodGet, "/stats", "", http.StatusOK},
		{http.MethodGet, "/system", "", http.StatusOK},
		{http.MethodPost, "/increment-download", "", http.StatusOK},
		{http.MethodPost, "/download", `{"url":"x"}`, http.StatusBadRequest},
		{http.MethodPost, "/download/blob", `{"url":"x"}`, http.StatusBadRequest},
		{http.MethodGet, "/download", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_APIKey(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.Server.APIKey = "secret"
	})

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"info needs key", "/info?url=x", "", http.StatusUnauthorized},
		{"info with key", "/info?url=x", "secret", http.StatusOK},
		{"stats with wrong key", "/stats", "nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_RateLimitOnlyOnDownloads(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 1
	})

	do := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "10.1.1.1:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(http.MethodPost, "/download", `{"url":"x"}`); code != http.StatusBadRequest {
		t.Fatalf("first download status = %d, want %d", code, http.StatusBadRequest)
	}
	if code := do(http.MethodPost, "/download", `{"url":"x"}`); code != http.StatusTooManyRequests {
		t.Errorf("second download status = %d, want %d", code, http.StatusTooManyRequests)
	}
	for i := 0; i < 3; i++ {
		if code := do(http.MethodGet, "/info?url=x", ""); code != http.StatusOK {
			t.Errorf("info status = %d, want %d", code, http.StatusOK)
		}
	}
}
