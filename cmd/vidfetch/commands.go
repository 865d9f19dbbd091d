package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/pkg/ffmpeg"
)

func newInfoCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info URL...",
		Short: "Show metadata for one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, url := range args {
				meta, err := a.metadata.GetVideoInfo(cmd.Context(), url)
				if err != nil {
					failed++
					a.printf("%s %s: %v\n", a.fail.Sprint("✗"), url, err)
					continue
				}
				if asJSON {
					if err := json.NewEncoder(a.out).Encode(meta); err != nil {
						return err
					}
					continue
				}
				a.printInfo(meta)
			}
			return failures(failed, len(args), "lookups")
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full metadata record as JSON")
	return cmd
}

func (a *app) printInfo(meta *domain.VideoMetadata) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Title:\t%s\n", a.bold.Sprint(meta.Title))
	fmt.Fprintf(w, "Uploader:\t%s\n", meta.Uploader)
	fmt.Fprintf(w, "Duration:\t%s\n", formatDuration(meta.Duration))
	fmt.Fprintf(w, "Views:\t%s\n", humanize.Comma(meta.ViewCount))
	fmt.Fprintf(w, "Likes:\t%s\n", humanize.Comma(meta.LikeCount))
	if meta.Thumbnail != "" {
		fmt.Fprintf(w, "Thumbnail:\t%s\n", a.dim.Sprint(meta.Thumbnail))
	}
	w.Flush()
	fmt.Fprintln(a.out)
}

func newFormatsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "formats URL",
		Short: "List the video and audio streams a URL offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := a.metadata.GetAvailableFormats(cmd.Context(), args[0])
			if err != nil {
				a.printf("%s %v\n", a.fail.Sprint("✗"), err)
				return err
			}
			listing = listing.Truncate(limit)

			a.printf("%s (%s)\n\n", a.bold.Sprint(listing.Title), formatDuration(listing.Duration))
			a.printFormats("Video", listing.VideoFormats)
			a.printFormats("Audio", listing.AudioFormats)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n formats per list (0 = all)")
	return cmd
}

func (a *app) printFormats(heading string, formats []domain.FormatDescriptor) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	fmt.Fprintf(a.out, "%s formats (%d)\n", heading, len(formats))
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXT\tRESOLUTION\tFPS\tVCODEC\tACODEC\tSIZE\tNOTE")
	for _, f := range formats {
		res := "-"
		if f.Height > 0 {
			res = fmt.Sprintf("%dx%d", f.Width, f.Height)
		}
		fps := "-"
		if f.FPS > 0 {
			fps = strconv.FormatFloat(f.FPS, 'f', -1, 64)
		}
		size := "-"
		if f.FileSize > 0 {
			size = humanize.Bytes(uint64(f.FileSize))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.FormatID, f.Ext, res, fps, orDash(f.VCodec), orDash(f.ACodec), size, f.FormatNote)
	}
	w.Flush()
	fmt.Fprintln(a.out)
}

func newVideoCmd(a *app) *cobra.Command {
	var format, container string

	cmd := &cobra.Command{
		Use:   "video URL...",
		Short: "Download videos into the output directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.downloadAll(cmd.Context(), args, func(url string) domain.DownloadRequest {
				return domain.DownloadRequest{
					URL:       url,
					Kind:      domain.KindVideo,
					Format:    format,
					Container: container,
				}
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "format selector (default from config)")
	cmd.Flags().StringVar(&container, "container", "", "merge container, e.g. mp4 or mkv")
	return cmd
}

func newAudioCmd(a *app) *cobra.Command {
	var format, codec, quality string

	cmd := &cobra.Command{
		Use:   "audio URL...",
		Short: "Extract audio tracks into the output directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.downloadAll(cmd.Context(), args, func(url string) domain.DownloadRequest {
				return domain.DownloadRequest{
					URL:       url,
					Kind:      domain.KindAudio,
					Format:    format,
					Container: codec,
					Quality:   quality,
				}
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "format selector (default from config)")
	cmd.Flags().StringVar(&codec, "codec", "", "target codec, e.g. mp3 or m4a")
	cmd.Flags().StringVarP(&quality, "quality", "q", "", "bitrate in kbps, e.g. 192")
	return cmd
}

func newBlobCmd(a *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "blob URL",
		Short: "Download a file and print it as base64 JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParseKind(kind)
			if err != nil {
				return err
			}

			result := a.downloads.Download(cmd.Context(), domain.DownloadRequest{URL: args[0], Kind: k})
			if !result.OK() {
				fmt.Fprintf(a.errOut, "%s %s\n", a.fail.Sprint("✗"), result.Err)
				return errors.New(result.Err)
			}
			defer a.downloads.CleanupTempFiles(result.Success.FilePath)

			data, err := os.ReadFile(result.Success.FilePath)
			if err != nil {
				return fmt.Errorf("failed to create blob: %w", err)
			}
			return json.NewEncoder(a.out).Encode(domain.NewBlob(result.Success, k, data))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "video", "video or audio")
	return cmd
}

func newProbeCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe FILE...",
		Short: "Inspect downloaded files with ffprobe",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prober, err := a.locate(a.cfg.Extractor.FFmpegPath)
			if err != nil {
				return err
			}

			var failed int
			for _, path := range args {
				info, err := prober.Probe(cmd.Context(), path)
				if err != nil {
					failed++
					a.printf("%s %s: %v\n", a.fail.Sprint("✗"), path, err)
					continue
				}
				if asJSON {
					if err := json.NewEncoder(a.out).Encode(info); err != nil {
						return err
					}
					continue
				}
				a.printMedia(path, info)
			}
			return failures(failed, len(args), "probes")
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print probe results as JSON")
	return cmd
}

func (a *app) printMedia(path string, info *ffmpeg.MediaInfo) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "File:\t%s\n", a.bold.Sprint(filepath.Base(path)))
	fmt.Fprintf(w, "Duration:\t%s\n", formatDuration(info.Duration))
	if info.VideoCodec != "" {
		fmt.Fprintf(w, "Video:\t%s %dx%d @ %s fps\n", info.VideoCodec, info.Width, info.Height,
			strconv.FormatFloat(info.FrameRate, 'f', 2, 64))
	}
	fmt.Fprintf(w, "Audio:\t%s\n", orDash(info.AudioCodec))
	fmt.Fprintf(w, "Size:\t%s\n", humanize.Bytes(uint64(info.FileSize)))
	w.Flush()
	fmt.Fprintln(a.out)
}

// downloadAll runs one download per URL, at most a.concurrency at a time.
// Every URL is attempted; the error reports how many failed.
func (a *app) downloadAll(ctx context.Context, urls []string, request func(url string) domain.DownloadRequest) error {
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(a.concurrency)

	for _, url := range urls {
		g.Go(func() error {
			req := request(url)
			start := time.Now()

			result := a.downloads.Download(ctx, req)
			if !result.OK() {
				failed.Add(1)
				a.printf("%s %s\n  %s\n", a.fail.Sprint("✗"), url, result.Err)
				return nil
			}

			dest, err := a.place(result.Success, req.Kind)
			if err != nil {
				failed.Add(1)
				a.downloads.CleanupTempFiles(result.Success.FilePath)
				a.printf("%s %s\n  %v\n", a.fail.Sprint("✗"), url, err)
				return nil
			}

			size := "?"
			if st, err := os.Stat(dest); err == nil {
				size = humanize.Bytes(uint64(st.Size()))
			}
			a.printf("%s %s\n  %s %s\n", a.ok.Sprint("✓"), a.bold.Sprint(result.Success.Title),
				dest, a.dim.Sprintf("(%s in %s)", size, time.Since(start).Round(time.Second)))
			return nil
		})
	}
	g.Wait()

	return failures(int(failed.Load()), len(urls), "downloads")
}

// place moves a finished artifact to its title-based name in the output
// directory. Existing files are never overwritten: the destination is claimed
// atomically and a " (n)" suffix is added until a free name is found.
func (a *app) place(s *domain.DownloadSuccess, kind domain.Kind) (string, error) {
	want := filepath.Join(a.outputDir, s.Filename(kind))
	ext := filepath.Ext(want)
	base := strings.TrimSuffix(want, ext)

	for i := 0; ; i++ {
		dest := want
		if i > 0 {
			dest = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		err := claim(s.FilePath, dest)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("move %s: %w", filepath.Base(s.FilePath), err)
		}
		if err := os.Remove(s.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("remove %s: %w", filepath.Base(s.FilePath), err)
		}
		return dest, nil
	}
}

// claim makes dest a copy of src, failing with fs.ErrExist when dest is
// already taken. A hard link is used when the filesystem allows it.
func claim(src, dest string) error {
	err := os.Link(src, dest)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

func failures(failed, total int, what string) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d %s failed", failed, total, what)
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return (time.Duration(seconds * float64(time.Second))).Round(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
