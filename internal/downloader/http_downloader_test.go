package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iconidentify/vidfetch/internal/config"
)

// jpegHeader is enough for content sniffing to report image/jpeg.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func testConfig() config.ArtworkConfig {
	return config.ArtworkConfig{
		Enabled:    true,
		Timeout:    5 * time.Second,
		UserAgent:  "test-agent",
		MaxBytes:   1024,
		RetryDelay: 10 * time.Millisecond,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHTTPDownloader(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), testLogger())

	if dl == nil {
		t.Fatal("downloader should not be nil")
	}
	if dl.client == nil {
		t.Error("client should not be nil")
	}
	if dl.client.Timeout != 5*time.Second {
		t.Errorf("client timeout = %v, want 5s", dl.client.Timeout)
	}
}

func TestFetchArtwork_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegHeader)
	}))
	defer server.Close()

	art, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchArtwork failed: %v", err)
	}
	if art.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", art.MIMEType)
	}
	if !bytes.Equal(art.Data, jpegHeader) {
		t.Errorf("Data = %v, want %v", art.Data, jpegHeader)
	}
}

func TestFetchArtwork_SniffsType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(jpegHeader)
	}))
	defer server.Close()

	art, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchArtwork failed: %v", err)
	}
	if art.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", art.MIMEType)
	}
}

func TestFetchArtwork_RejectsNonImage(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>nope</html>"))
	}))
	defer server.Close()

	_, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("error = %v, want ErrNotImage", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestFetchArtwork_TooLarge(t *testing.T) {
	tests := []struct {
		name          string
		contentLength bool
	}{
		{name: "declared length", contentLength: true},
		{name: "chunked body", contentLength: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := append(append([]byte{}, jpegHeader...), make([]byte, 2048)...)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/jpeg")
				if tt.contentLength {
					w.Header().Set("Content-Length", strconv.Itoa(len(body)))
				} else {
					w.(http.Flusher).Flush()
				}
				w.Write(body)
			}))
			defer server.Close()

			_, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
			if !errors.Is(err, ErrTooLarge) {
				t.Errorf("error = %v, want ErrTooLarge", err)
			}
		})
	}
}

func TestFetchArtwork_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetchArtwork_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(jpegHeader)
		}
	}))
	defer server.Close()

	art, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchArtwork failed: %v", err)
	}
	if art == nil || calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchArtwork_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPDownloader(testConfig(), testLogger()).FetchArtwork(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchArtwork_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryDelay = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewHTTPDownloader(cfg, testLogger()).FetchArtwork(ctx, server.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry backoff ignored context cancellation")
	}
}

func TestImageType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
	}{
		{"declared jpeg", "image/jpeg", nil, "image/jpeg"},
		{"declared png with params", "image/png; charset=binary", nil, "image/png"},
		{"sniffed png", "", png, "image/png"},
		{"webp rejected", "image/webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), ""},
		{"text rejected", "text/plain", []byte("hello"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := imageType(tt.declared, tt.data); got != tt.want {
				t.Errorf("imageType() = %q, want %q", got, tt.want)
			}
		})
	}
}
