package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/downloader"
	"github.com/iconidentify/vidfetch/internal/extractor"
	"github.com/iconidentify/vidfetch/internal/service"
	"github.com/iconidentify/vidfetch/pkg/ffmpeg"
)

// Downloader runs downloads and releases their artifacts.
type Downloader interface {
	Download(ctx context.Context, req domain.DownloadRequest) domain.DownloadResult
	CleanupTempFiles(path string) bool
}

// Querier answers metadata questions about a URL.
type Querier interface {
	GetVideoInfo(ctx context.Context, url string) (*domain.VideoMetadata, error)
	GetAvailableFormats(ctx context.Context, url string) (*domain.FormatListing, error)
}

// Prober inspects finished media files.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// buildFunc wires the services for a loaded configuration.
type buildFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Downloader, Querier, error)

type app struct {
	out    io.Writer
	errOut io.Writer
	outMu  sync.Mutex

	configPath  string
	outputDir   string
	concurrency int
	noColor     bool
	verbose     bool
	install     bool

	cfg       *config.Config
	logger    *slog.Logger
	downloads Downloader
	metadata  Querier
	build     buildFunc
	locate    func(location string) (Prober, error)
	isTTY     func() bool

	ok   *color.Color
	fail *color.Color
	bold *color.Color
	dim  *color.Color
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		build:  buildServices,
		locate: locateTools,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
		ok:     color.New(color.FgHiGreen),
		fail:   color.New(color.FgHiRed, color.Bold),
		bold:   color.New(color.Bold),
		dim:    color.New(color.FgWhite, color.Italic),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "vidfetch",
		Short:         "Download videos and audio with yt-dlp",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config file")
	flags.StringVarP(&a.outputDir, "output", "o", ".", "directory for downloaded files")
	flags.IntVarP(&a.concurrency, "concurrency", "j", 2, "number of URLs processed at once")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log extractor activity to stderr")
	flags.BoolVar(&a.install, "install", false, "install yt-dlp into the user cache if needed")

	root.AddCommand(
		newInfoCmd(a),
		newFormatsCmd(a),
		newVideoCmd(a),
		newAudioCmd(a),
		newBlobCmd(a),
		newProbeCmd(a),
	)

	return root
}

func (a *app) setup(ctx context.Context) error {
	color.NoColor = a.noColor || !a.isTTY()
	if ctx == nil {
		ctx = context.Background()
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dir, err := filepath.Abs(a.outputDir)
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	// Artifacts land next to their destination so the final move is a rename.
	cfg.Storage.TempPath = dir
	a.outputDir = dir
	if a.install {
		cfg.Extractor.AutoInstall = true
	}
	if a.concurrency < 1 {
		a.concurrency = 1
	}
	a.cfg = cfg

	a.downloads, a.metadata, err = a.build(ctx, cfg, a.logger)
	return err
}

func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Downloader, Querier, error) {
	ex := extractor.NewYTDLP(cfg.Extractor, logger)
	if cfg.Extractor.AutoInstall {
		if err := ex.Install(ctx); err != nil {
			return nil, nil, err
		}
	}
	downloads := service.NewDownloadService(ex, cfg.Storage, cfg.Extractor, logger)
	if cfg.Artwork.Enabled {
		downloads.SetArtworkFetcher(downloader.NewHTTPDownloader(cfg.Artwork, logger))
	}
	return downloads, service.NewMetadataService(ex, logger), nil
}

func locateTools(location string) (Prober, error) {
	tools, err := ffmpeg.Locate(location)
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// printf serializes output from concurrent downloads.
func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) println(args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.out, args...)
}
