package service

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/extractor"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExtractor writes files next to the output template instead of
// touching the network.
type fakeExtractor struct {
	mu sync.Mutex

	info map[string]any
	err  error

	// writeExts are created on disk from the output template, in order.
	writeExts []string

	// reportExt, when set, is reported as the output filename. The file is
	// only on disk if it is also listed in writeExts.
	reportExt string

	// reported overrides the reported filename verbatim.
	reported string

	panicWith any

	calls []extractor.Options
	urls  []string
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		info: map[string]any{
			"id":          "abc123",
			"title":       "Test Clip",
			"duration":    float64(93),
			"uploader":    "Uploader",
			"view_count":  float64(1500),
			"like_count":  float64(42),
			"description": "desc",
			"thumbnail":   "https://img.example/abc.jpg",
			"webpage_url": "https://video.example/watch?v=abc123",
			"extractor":   "youtube",
			"upload_date": "20230405",
		},
	}
}

func (f *fakeExtractor) FetchInfo(ctx context.Context, url string) (*extractor.Info, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &extractor.Info{Raw: maps.Clone(f.info)}, nil
}

func (f *fakeExtractor) Download(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.panicWith != nil {
		panic(f.panicWith)
	}

	for _, ext := range f.writeExts {
		path := strings.Replace(opts.OutputTemplate, "%(ext)s", ext, 1)
		if err := os.WriteFile(path, []byte("media:"+ext), 0o644); err != nil {
			return nil, err
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	info := &extractor.Info{Raw: maps.Clone(f.info), Filename: f.reported}
	if f.reportExt != "" {
		info.Filename = strings.Replace(opts.OutputTemplate, "%(ext)s", f.reportExt, 1)
	}
	return info, nil
}

func (f *fakeExtractor) lastCall() extractor.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestDownloadService(t *testing.T, ex extractor.Extractor) *DownloadService {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.TempPath = t.TempDir()
	return NewDownloadService(ex, cfg.Storage, cfg.Extractor, testLogger())
}

// assertExactlyOne fails unless the result is a success whose file exists,
// or a failure with a message.
func assertExactlyOne(t *testing.T, r domain.DownloadResult) {
	t.Helper()
	if r.OK() == (r.Err != "") {
		t.Fatalf("result must be exactly one of success/failure: %+v", r)
	}
	if r.OK() {
		if _, err := os.Stat(r.Success.FilePath); err != nil {
			t.Fatalf("success file missing: %v", err)
		}
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
