package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/lrstanley/go-ytdlp"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/downloader"
)

// YTDLP implements Extractor on top of the yt-dlp binary.
type YTDLP struct {
	cfg    config.ExtractorConfig
	logger *slog.Logger
}

// NewYTDLP creates a yt-dlp backed extractor.
func NewYTDLP(cfg config.ExtractorConfig, logger *slog.Logger) *YTDLP {
	return &YTDLP{
		cfg:    cfg,
		logger: logger,
	}
}

// Install downloads a yt-dlp release into the user cache when no binary is
// configured. Installation is retried with backoff.
func (y *YTDLP) Install(ctx context.Context) error {
	if y.cfg.BinaryPath != "" {
		return nil
	}

	_, err := downloader.Retry(ctx, downloader.DefaultRetryConfig(), func() (*ytdlp.ResolvedInstall, error) {
		resolved, err := ytdlp.Install(ctx, nil)
		if err != nil {
			y.logger.Warn("yt-dlp install attempt failed", "error", err)
		}
		return resolved, err
	})
	if err != nil {
		return fmt.Errorf("install yt-dlp: %w", err)
	}
	return nil
}

// FetchInfo returns the metadata record for url without downloading media.
func (y *YTDLP) FetchInfo(ctx context.Context, url string) (*Info, error) {
	ctx, cancel := y.withTimeout(ctx)
	defer cancel()

	cmd := y.command().
		SkipDownload().
		DumpSingleJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, translateError(res, err)
	}

	info, err := parseInfo(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parse info: %w", err)
	}
	return info, nil
}

// Download fetches url according to opts and reports the produced metadata.
func (y *YTDLP) Download(ctx context.Context, url string, opts Options) (*Info, error) {
	ctx, cancel := y.withTimeout(ctx)
	defer cancel()

	cmd := y.command().
		Output(opts.OutputTemplate).
		PrintJSON()

	if opts.Format != "" {
		cmd.Format(opts.Format)
	}
	if opts.MergeOutputFormat != "" {
		cmd.MergeOutputFormat(opts.MergeOutputFormat)
	}
	if opts.Quiet && !y.cfg.Verbose {
		cmd.Quiet()
	}
	if a := opts.ExtractAudio; a != nil {
		cmd.ExtractAudio().AudioFormat(a.Codec)
		if a.Quality != "" {
			cmd.AudioQuality(audioQualityArg(a.Quality))
		}
	}

	y.logger.Debug("running yt-dlp", "url", url, "format", opts.Format, "output", opts.OutputTemplate)

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, translateError(res, err)
	}

	info, err := parseInfo(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parse info: %w", err)
	}

	if info.Filename == "" {
		if extracted, exErr := res.GetExtractedInfo(); exErr == nil && len(extracted) > 0 && extracted[0].Filename != nil {
			info.Filename = *extracted[0].Filename
		}
	}

	return info, nil
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoPlaylist().
		NoWarnings()
	if y.cfg.BinaryPath != "" {
		cmd.SetExecutable(y.cfg.BinaryPath)
	}
	if y.cfg.FFmpegPath != "" {
		cmd.FFmpegLocation(y.cfg.FFmpegPath)
	}
	return cmd
}

func (y *YTDLP) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if y.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, y.cfg.Timeout)
}

// translateError turns a failed run into an engine Error when yt-dlp itself
// reported the problem. Local faults are returned unchanged.
func translateError(res *ytdlp.Result, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("yt-dlp not available: %w", err)
	}
	if res == nil {
		return err
	}
	if msg := lastErrorLine(res.Stderr); msg != "" {
		return &Error{Message: msg, Err: err}
	}
	return &Error{Message: err.Error(), Err: err}
}
