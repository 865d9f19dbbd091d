// Package downloader fetches small auxiliary files, such as cover art, over
// plain HTTP.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/vidfetch/internal/config"
)

var (
	// ErrNotImage is returned when the response is not a JPEG or PNG image.
	ErrNotImage = errors.New("artwork is not a jpeg or png image")

	// ErrTooLarge is returned when the response exceeds the configured size.
	ErrTooLarge = errors.New("artwork exceeds size limit")

	errRateLimited = errors.New("rate limited")
)

// Artwork is a downloaded cover image.
type Artwork struct {
	Data     []byte
	MIMEType string
}

// HTTPDownloader fetches artwork with bounded size and retries.
type HTTPDownloader struct {
	client *http.Client
	cfg    config.ArtworkConfig
	logger *slog.Logger
}

// NewHTTPDownloader creates a new HTTP artwork downloader.
func NewHTTPDownloader(cfg config.ArtworkConfig, logger *slog.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// FetchArtwork downloads the image at url. Rate limiting, server errors and
// network errors are retried up to three times with exponential backoff.
func (d *HTTPDownloader) FetchArtwork(ctx context.Context, url string) (*Artwork, error) {
	cfg := RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  d.cfg.RetryDelay,
		BackoffFactor: 2,
		Retryable:     isRetryableError,
	}

	attempt := 0
	art, err := Retry(ctx, cfg, func() (*Artwork, error) {
		attempt++
		art, err := d.fetchOnce(ctx, url)
		if err != nil && isRetryableError(err) && attempt < cfg.MaxAttempts {
			d.logger.Debug("artwork fetch failed, retrying", "url", url, "attempt", attempt, "error", err)
		}
		return art, err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch artwork: %w", err)
	}
	return art, nil
}

func (d *HTTPDownloader) fetchOnce(ctx context.Context, url string) (*Artwork, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "image/jpeg,image/png;q=0.9,*/*;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &permanentError{fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	if d.cfg.MaxBytes > 0 && resp.ContentLength > d.cfg.MaxBytes {
		return nil, &permanentError{fmt.Errorf("%w: %s", ErrTooLarge, humanize.Bytes(uint64(resp.ContentLength)))}
	}

	body := io.Reader(resp.Body)
	if d.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, d.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if d.cfg.MaxBytes > 0 && int64(len(data)) > d.cfg.MaxBytes {
		return nil, &permanentError{ErrTooLarge}
	}

	mimeType := imageType(resp.Header.Get("Content-Type"), data)
	if mimeType == "" {
		return nil, &permanentError{ErrNotImage}
	}

	d.logger.Debug("artwork fetched", "url", url, "size", humanize.Bytes(uint64(len(data))), "mime_type", mimeType)
	return &Artwork{Data: data, MIMEType: mimeType}, nil
}

// imageType returns image/jpeg or image/png, trusting the declared type and
// falling back to content sniffing. Anything else yields "".
func imageType(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		switch mt {
		case "image/jpeg", "image/png":
			return mt
		}
	}
	switch sniffed := http.DetectContentType(data); sniffed {
	case "image/jpeg", "image/png":
		return sniffed
	}
	return ""
}

// permanentError marks failures that a retry cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}
