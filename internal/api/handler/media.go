package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iconidentify/vidfetch/internal/counter"
	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/worker"
)

const maxRequestBody = 64 << 10

// Downloader runs a single download and releases its artifact.
type Downloader interface {
	Download(ctx context.Context, req domain.DownloadRequest) domain.DownloadResult
	CleanupTempFiles(path string) bool
}

// MetadataQuerier answers metadata questions about a URL.
type MetadataQuerier interface {
	GetVideoInfo(ctx context.Context, url string) (*domain.VideoMetadata, error)
	GetAvailableFormats(ctx context.Context, url string) (*domain.FormatListing, error)
}

// JobRunner schedules extractor jobs.
type JobRunner interface {
	Submit(ctx context.Context, fn worker.Job, onAbandon worker.AbandonFunc) (*worker.Task, error)
}

// MediaOptions tunes the media endpoints.
type MediaOptions struct {
	// FormatsLimit caps each list returned by the formats endpoint.
	FormatsLimit int

	// AutoIncrement bumps the download counter after every streamed file.
	AutoIncrement bool
}

// MediaHandler serves the info, formats and download endpoints.
type MediaHandler struct {
	downloads Downloader
	metadata  MetadataQuerier
	jobs      JobRunner
	counter   counter.Store
	opts      MediaOptions
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(
	downloads Downloader,
	metadata MetadataQuerier,
	jobs JobRunner,
	store counter.Store,
	opts MediaOptions,
	logger *slog.Logger,
) *MediaHandler {
	if opts.FormatsLimit <= 0 {
		opts.FormatsLimit = 10
	}
	if store == nil {
		store = counter.Noop{}
	}
	return &MediaHandler{
		downloads: downloads,
		metadata:  metadata,
		jobs:      jobs,
		counter:   store,
		opts:      opts,
		validate:  validator.New(),
		logger:    logger,
	}
}

// DownloadRequest is the JSON body of the download endpoints. Type is the
// older name for Kind and is used when Kind is empty.
type DownloadRequest struct {
	URL       string `json:"url" validate:"required,max=4096"`
	Kind      string `json:"kind" validate:"omitempty,oneof=video audio"`
	Type      string `json:"type" validate:"omitempty,oneof=video audio"`
	Format    string `json:"format" validate:"omitempty,max=256"`
	Container string `json:"container" validate:"omitempty,alphanum,max=16"`
	Quality   string `json:"quality" validate:"omitempty,numeric,max=4"`
}

// InfoResponse is the trimmed metadata returned by the info endpoint.
type InfoResponse struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Uploader  string  `json:"uploader"`
	Thumbnail string  `json:"thumbnail"`
	ViewCount int64   `json:"view_count"`
	LikeCount int64   `json:"like_count"`
}

// FormatsResponse is returned by the formats endpoint.
type FormatsResponse struct {
	VideoFormats []domain.FormatDescriptor `json:"video_formats"`
	AudioFormats []domain.FormatDescriptor `json:"audio_formats"`
	Title        string                    `json:"title"`
	Duration     float64                   `json:"duration"`
}

// Info handles GET /info?url=.
func (h *MediaHandler) Info(w http.ResponseWriter, r *http.Request) {
	meta, err := h.metadata.GetVideoInfo(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, InfoResponse{
		Title:     meta.Title,
		Duration:  meta.Duration,
		Uploader:  meta.Uploader,
		Thumbnail: meta.Thumbnail,
		ViewCount: meta.ViewCount,
		LikeCount: meta.LikeCount,
	})
}

// Formats handles GET /formats?url=.
func (h *MediaHandler) Formats(w http.ResponseWriter, r *http.Request) {
	listing, err := h.metadata.GetAvailableFormats(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing = listing.Truncate(h.opts.FormatsLimit)
	writeJSON(w, http.StatusOK, FormatsResponse{
		VideoFormats: listing.VideoFormats,
		AudioFormats: listing.AudioFormats,
		Title:        listing.Title,
		Duration:     listing.Duration,
	})
}

// Download handles POST /download. The file is streamed back and removed
// once the handler returns, whether or not the client read all of it.
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDownload(w, r)
	if !ok {
		return
	}

	success, ok := h.runDownload(w, r, req)
	if !ok {
		return
	}
	defer h.downloads.CleanupTempFiles(success.FilePath)

	f, err := os.Open(success.FilePath)
	if err != nil {
		h.logger.Error("open downloaded file", "path", success.FilePath, "error", err)
		writeError(w, http.StatusBadRequest, domain.UnexpectedPrefix+err.Error())
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.UnexpectedPrefix+err.Error())
		return
	}

	w.Header().Set("Content-Type", req.Kind.MIMEType())
	w.Header().Set("Content-Disposition", contentDisposition(success.Filename(req.Kind)))
	http.ServeContent(w, r, "", stat.ModTime(), f)

	if r.Context().Err() != nil {
		h.logger.Info("client went away during transfer", "path", success.FilePath)
		return
	}
	if h.opts.AutoIncrement {
		h.bumpCounter(r.Context())
	}
}

// DownloadBlob handles POST /download/blob.
func (h *MediaHandler) DownloadBlob(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDownload(w, r)
	if !ok {
		return
	}

	success, ok := h.runDownload(w, r, req)
	if !ok {
		return
	}
	defer h.downloads.CleanupTempFiles(success.FilePath)

	data, err := os.ReadFile(success.FilePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create blob: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, domain.NewBlob(success, req.Kind, data))
}

func (h *MediaHandler) decodeDownload(w http.ResponseWriter, r *http.Request) (domain.DownloadRequest, bool) {
	var body DownloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body: "+err.Error())
		return domain.DownloadRequest{}, false
	}

	body.URL = strings.TrimSpace(body.URL)
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return domain.DownloadRequest{}, false
	}

	kind := body.Kind
	if kind == "" {
		kind = body.Type
	}
	parsed, err := domain.ParseKind(kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.DownloadRequest{}, false
	}

	return domain.DownloadRequest{
		URL:       body.URL,
		Kind:      parsed,
		Format:    body.Format,
		Container: body.Container,
		Quality:   body.Quality,
	}, true
}

// runDownload executes req on the worker pool and waits for it while the
// client is connected. A result that arrives after the client left is
// cleaned up by the pool's abandon hook.
func (h *MediaHandler) runDownload(w http.ResponseWriter, r *http.Request, req domain.DownloadRequest) (*domain.DownloadSuccess, bool) {
	logger := h.logger.With("url", req.URL, "kind", req.Kind)

	task, err := h.jobs.Submit(r.Context(), func(ctx context.Context) domain.DownloadResult {
		return h.downloads.Download(ctx, req)
	}, func(result domain.DownloadResult) {
		if result.OK() {
			h.downloads.CleanupTempFiles(result.Success.FilePath)
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrPoolStopped) {
			writeError(w, http.StatusServiceUnavailable, domain.UnexpectedPrefix+err.Error())
			return nil, false
		}
		logger.Info("client went away before download started", "error", err)
		return nil, false
	}

	start := time.Now()
	result, err := task.Wait(r.Context())
	if err != nil {
		logger.Info("client went away during download", "task_id", task.ID, "error", err)
		return nil, false
	}

	if !result.OK() {
		logger.Warn("download failed", "task_id", task.ID, "error", result.Err)
		writeError(w, http.StatusBadRequest, result.Err)
		return nil, false
	}

	logger.Info("download ready", "task_id", task.ID, "title", result.Success.Title, "elapsed", time.Since(start))
	return result.Success, true
}

func (h *MediaHandler) bumpCounter(ctx context.Context) {
	if err := h.counter.Increment(context.WithoutCancel(ctx), domain.Today()); err != nil {
		h.logger.Error("increment download counter", "error", err)
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "URL" && fe.Tag() == "required" {
				return domain.ErrEmptyURL.Error()
			}
		}
	}
	return "Invalid body: " + err.Error()
}

func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
