package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/downloader"
	"github.com/iconidentify/vidfetch/internal/extractor"
)

// Failure messages for downloads that finished without a usable file.
const (
	msgVideoNotFound = "Download failed: merged video file not found."
	msgAudioNotFound = "Download failed: audio file not found."
)

// Containers probed after the merge container when the engine's reported
// filename is missing or stale.
var fallbackVideoExts = []string{"mkv", "webm"}

// ArtworkFetcher downloads cover images for tagged audio.
type ArtworkFetcher interface {
	FetchArtwork(ctx context.Context, url string) (*downloader.Artwork, error)
}

// DownloadService runs downloads through the extractor and owns the
// resulting temp files until they are moved or deleted.
type DownloadService struct {
	extractor extractor.Extractor
	cfg       config.ExtractorConfig
	tempDir   string
	minFree   int64
	logger    *slog.Logger
	artwork   ArtworkFetcher

	newID     func() string
	freeSpace func(path string) int64
	tagAudio  func(path string, meta *domain.VideoMetadata, art *downloader.Artwork) error
}

// NewDownloadService creates a new download service.
func NewDownloadService(
	ex extractor.Extractor,
	storageCfg config.StorageConfig,
	extractorCfg config.ExtractorConfig,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		extractor: ex,
		cfg:       extractorCfg,
		tempDir:   storageCfg.TempPath,
		minFree:   storageCfg.MinFreeBytes,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
		freeSpace: getFreeDiskSpace,
		tagAudio:  writeID3Tags,
	}
}

// SetArtworkFetcher enables embedding the thumbnail as cover art when audio
// is tagged. A nil fetcher disables it.
func (s *DownloadService) SetArtworkFetcher(f ArtworkFetcher) {
	s.artwork = f
}

// TempDir returns the directory holding temp artifacts.
func (s *DownloadService) TempDir() string {
	return s.tempDir
}

// Download dispatches on the request kind.
func (s *DownloadService) Download(ctx context.Context, req domain.DownloadRequest) domain.DownloadResult {
	if req.Kind == domain.KindAudio {
		return s.DownloadAudio(ctx, req)
	}
	return s.DownloadVideo(ctx, req)
}

// DownloadVideo fetches a merged video file.
func (s *DownloadService) DownloadVideo(ctx context.Context, req domain.DownloadRequest) (result domain.DownloadResult) {
	id := s.newID()
	logger := s.logger.With("download_id", id, "url", req.URL, "kind", domain.KindVideo)
	defer s.recoverFailure(logger, id, &result)

	req.Kind = domain.KindVideo
	if err := req.Validate(); err != nil {
		return domain.Failed(err.Error())
	}

	merge := firstNonEmpty(req.Container, s.cfg.MergeFormat)
	opts := extractor.Options{
		Format:            firstNonEmpty(req.Format, s.cfg.VideoFormat),
		OutputTemplate:    s.outputTemplate(id),
		MergeOutputFormat: merge,
		Quiet:             true,
	}

	meta, err := s.run(ctx, logger, req.URL, opts)
	if err != nil {
		s.removeArtifacts(id)
		return s.failure(logger, err)
	}

	path := s.locateVideo(id, merge, meta.reported)
	if path == "" {
		logger.Warn("merged video not found", "reported", meta.reported)
		s.removeArtifacts(id)
		return domain.Failed(msgVideoNotFound)
	}

	return s.finish(logger, id, path, req.OutputPath, merge, meta.VideoMetadata)
}

// DownloadAudio fetches the best audio stream and converts it to the target codec.
func (s *DownloadService) DownloadAudio(ctx context.Context, req domain.DownloadRequest) (result domain.DownloadResult) {
	id := s.newID()
	logger := s.logger.With("download_id", id, "url", req.URL, "kind", domain.KindAudio)
	defer s.recoverFailure(logger, id, &result)

	req.Kind = domain.KindAudio
	if err := req.Validate(); err != nil {
		return domain.Failed(err.Error())
	}

	codec := firstNonEmpty(req.Container, s.cfg.AudioCodec)
	opts := extractor.Options{
		Format:         firstNonEmpty(req.Format, s.cfg.AudioFormat),
		OutputTemplate: s.outputTemplate(id),
		Quiet:          true,
		ExtractAudio: &extractor.AudioExtraction{
			Codec:   codec,
			Quality: firstNonEmpty(req.Quality, s.cfg.AudioQuality),
		},
	}

	meta, err := s.run(ctx, logger, req.URL, opts)
	if err != nil {
		s.removeArtifacts(id)
		return s.failure(logger, err)
	}

	path := s.artifactPath(id, codec)
	if !isFile(path) {
		logger.Warn("audio file not found", "expected", path)
		s.removeArtifacts(id)
		return domain.Failed(msgAudioNotFound)
	}

	if codec == "mp3" && s.cfg.TagAudio && s.tagAudio != nil {
		art := s.fetchArtwork(ctx, logger, meta.CoverURL())
		if err := s.tagAudio(path, meta.VideoMetadata, art); err != nil {
			logger.Warn("failed to write id3 tags", "error", err)
		}
	}

	return s.finish(logger, id, path, req.OutputPath, codec, meta.VideoMetadata)
}

// CleanupTempFiles removes path. It reports true when the file is gone,
// including when it never existed, and false only if removal failed.
func (s *DownloadService) CleanupTempFiles(path string) bool {
	if path == "" {
		return true
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	s.logger.Warn("failed to remove temp file", "path", path, "error", err)
	return false
}

// SweepStale removes temp artifacts older than maxAge. Only files named
// after a generated id are touched.
func (s *DownloadService) SweepStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if s.CleanupTempFiles(filepath.Join(s.tempDir, entry.Name())) {
			removed++
		}
	}
	return removed, nil
}

// fetchArtwork returns nil when no fetcher is set or the fetch fails; a
// missing cover never fails the download.
func (s *DownloadService) fetchArtwork(ctx context.Context, logger *slog.Logger, url string) *downloader.Artwork {
	if s.artwork == nil || url == "" {
		return nil
	}
	art, err := s.artwork.FetchArtwork(ctx, url)
	if err != nil {
		logger.Warn("failed to fetch cover art", "thumbnail", url, "error", err)
		return nil
	}
	return art
}

type runResult struct {
	*domain.VideoMetadata
	reported string
}

func (s *DownloadService) run(ctx context.Context, logger *slog.Logger, url string, opts extractor.Options) (*runResult, error) {
	if err := s.checkStorage(); err != nil {
		return nil, err
	}

	start := time.Now()
	logger.Info("starting download", "format", opts.Format)

	info, err := s.extractor.Download(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	meta, err := decodeMetadata(info.Raw)
	if err != nil {
		return nil, err
	}

	logger.Info("extractor finished", "title", meta.Title, "duration", time.Since(start))
	return &runResult{VideoMetadata: meta, reported: info.Filename}, nil
}

// locateVideo trusts the reported filename only if it exists, then probes
// the merge container and the fallback containers in order.
func (s *DownloadService) locateVideo(id, merge, reported string) string {
	if reported != "" && isFile(reported) {
		return reported
	}

	exts := append([]string{merge}, fallbackVideoExts...)
	for _, ext := range exts {
		if p := s.artifactPath(id, ext); isFile(p) {
			return p
		}
	}
	return ""
}

func (s *DownloadService) finish(logger *slog.Logger, id, path, outputPath, ext string, meta *domain.VideoMetadata) domain.DownloadResult {
	final := path
	if outputPath != "" && filepath.Clean(outputPath) != filepath.Clean(path) {
		if err := moveFile(path, outputPath); err != nil {
			s.removeArtifacts(id)
			return s.failure(logger, fmt.Errorf("move to output path: %w", err))
		}
		final = outputPath
	}

	if st, err := os.Stat(final); err == nil {
		logger.Info("download complete", "path", final, "size", humanize.Bytes(uint64(st.Size())))
	}
	return domain.Succeeded(meta.Success(final, ext))
}

func (s *DownloadService) failure(logger *slog.Logger, err error) domain.DownloadResult {
	if ee, ok := extractor.AsError(err); ok {
		logger.Warn("extractor reported failure", "error", ee.Message)
		return domain.Failed(ee.Message)
	}
	logger.Error("download failed", "error", err)
	return domain.Failed(domain.UnexpectedPrefix + err.Error())
}

func (s *DownloadService) recoverFailure(logger *slog.Logger, id string, result *domain.DownloadResult) {
	if r := recover(); r != nil {
		s.removeArtifacts(id)
		*result = s.failure(logger, fmt.Errorf("panic: %v", r))
	}
}

func (s *DownloadService) checkStorage() error {
	if s.minFree <= 0 || s.freeSpace == nil {
		return nil
	}
	free := s.freeSpace(s.tempDir)
	if free < s.minFree {
		return fmt.Errorf("%w: %s free in %s", domain.ErrStorageFull, humanize.Bytes(uint64(max(free, 0))), s.tempDir)
	}
	return nil
}

func (s *DownloadService) outputTemplate(id string) string {
	return filepath.Join(s.tempDir, id+".%(ext)s")
}

func (s *DownloadService) artifactPath(id, ext string) string {
	return filepath.Join(s.tempDir, id+"."+ext)
}

// removeArtifacts deletes every temp file for id, including partial downloads.
func (s *DownloadService) removeArtifacts(id string) {
	matches, err := filepath.Glob(filepath.Join(s.tempDir, id+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		s.CleanupTempFiles(m)
	}
}

// isArtifactName reports whether name starts with a generated id, e.g.
// "<uuid>.mp4" or "<uuid>.f137.mp4.part".
func isArtifactName(name string) bool {
	base, _, ok := strings.Cut(name, ".")
	if !ok {
		return false
	}
	_, err := uuid.Parse(base)
	return err == nil
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// moveFile renames src to dst, copying across filesystems when rename fails.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	in.Close()
	return os.Remove(src)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
