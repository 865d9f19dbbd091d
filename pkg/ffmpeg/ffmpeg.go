// Package ffmpeg locates the ffmpeg and ffprobe binaries the extractor uses
// for merging and audio conversion, and probes finished media files.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a required binary cannot be located.
var ErrNotFound = errors.New("ffmpeg binaries not found")

// Tools holds resolved binary paths.
type Tools struct {
	FFmpegPath  string
	FFprobePath string
}

// Locate resolves ffmpeg and ffprobe. location may be empty (search PATH),
// a directory containing both binaries, or the path to the ffmpeg binary
// with ffprobe beside it.
func Locate(location string) (*Tools, error) {
	if location == "" {
		ffmpegPath, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg not in PATH", ErrNotFound)
		}
		ffprobePath, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("%w: ffprobe not in PATH", ErrNotFound)
		}
		return &Tools{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}, nil
	}

	dir := location
	if st, err := os.Stat(location); err == nil && !st.IsDir() {
		dir = filepath.Dir(location)
	}

	t := &Tools{
		FFmpegPath:  filepath.Join(dir, binaryName("ffmpeg")),
		FFprobePath: filepath.Join(dir, binaryName("ffprobe")),
	}
	for _, p := range []string{t.FFmpegPath, t.FFprobePath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
	}
	return t, nil
}

func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// Version returns the first line of `ffmpeg -version`.
func (t *Tools) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, t.FFmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// Check verifies that both binaries run.
func (t *Tools) Check(ctx context.Context) error {
	if _, err := t.Version(ctx); err != nil {
		return err
	}
	if err := exec.CommandContext(ctx, t.FFprobePath, "-version").Run(); err != nil {
		return fmt.Errorf("ffprobe -version: %w", err)
	}
	return nil
}

// MediaInfo describes a media file.
type MediaInfo struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	HasAudio   bool    `json:"has_audio"`
	Bitrate    int64   `json:"bitrate,omitempty"`
	FileSize   int64   `json:"file_size"`
}

// Probe runs ffprobe against path.
func (t *Tools) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat media: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, firstLine(stderr.String()))
	}

	info, err := parseProbeOutput(output)
	if err != nil {
		return nil, err
	}
	info.FileSize = st.Size()
	return info, nil
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// parseProbeOutput reads ffprobe's JSON. The first stream of each type wins;
// attached cover images (mjpeg/png video streams) are skipped.
func parseProbeOutput(data []byte) (*MediaInfo, error) {
	var parsed probeOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.Duration = dur
	}
	if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if info.VideoCodec != "" || s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = parseFrameRate(s.AvgFrameRate)
		}
	}
	return info, nil
}

// parseFrameRate parses ffprobe's "num/den" form.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return sc.Text()
	}
	return ""
}
