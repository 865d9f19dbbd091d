package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const sampleProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "opus"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "212.480000", "bit_rate": "4410000"}
}`

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("parseProbeOutput() error: %v", err)
	}

	if info.Duration != 212.48 {
		t.Errorf("Duration = %v, want 212.48", info.Duration)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("resolution = %dx%d, want 1920x1080", info.Width, info.Height)
	}
	if info.VideoCodec != "h264" || info.AudioCodec != "opus" || !info.HasAudio {
		t.Errorf("codecs = %q/%q audio=%v", info.VideoCodec, info.AudioCodec, info.HasAudio)
	}
	if info.FrameRate < 29.97 || info.FrameRate > 29.98 {
		t.Errorf("FrameRate = %v, want ~29.97", info.FrameRate)
	}
	if info.Bitrate != 4410000 {
		t.Errorf("Bitrate = %d", info.Bitrate)
	}
}

func TestParseProbeOutput_AudioWithCover(t *testing.T) {
	data := `{"streams":[{"codec_type":"audio","codec_name":"mp3"},{"codec_type":"video","codec_name":"mjpeg","width":320,"height":180}],"format":{"duration":"60"}}`

	info, err := parseProbeOutput([]byte(data))
	if err != nil {
		t.Fatalf("parseProbeOutput() error: %v", err)
	}
	if info.VideoCodec != "" || info.Width != 0 {
		t.Errorf("cover image reported as video: %+v", info)
	}
	if info.AudioCodec != "mp3" {
		t.Errorf("AudioCodec = %q, want mp3", info.AudioCodec)
	}
}

func TestParseProbeOutput_Invalid(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// fakeTools writes shell scripts standing in for ffmpeg and ffprobe.
func fakeTools(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a unix shell")
	}
	dir := t.TempDir()
	scripts := map[string]string{
		"ffmpeg":  "#!/bin/sh\necho 'ffmpeg version 6.1-test Copyright (c)'\necho 'built with gcc'\n",
		"ffprobe": "#!/bin/sh\nif [ \"$1\" = \"-version\" ]; then echo 'ffprobe version 6.1-test'; exit 0; fi\ncat <<'JSON'\n" + sampleProbe + "\nJSON\n",
	}
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLocate_Directory(t *testing.T) {
	dir := fakeTools(t)

	tools, err := Locate(dir)
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if tools.FFmpegPath != filepath.Join(dir, "ffmpeg") || tools.FFprobePath != filepath.Join(dir, "ffprobe") {
		t.Errorf("tools = %+v", tools)
	}

	// A path to the ffmpeg binary resolves its sibling ffprobe.
	tools, err = Locate(filepath.Join(dir, "ffmpeg"))
	if err != nil {
		t.Fatalf("Locate(binary) error: %v", err)
	}
	if tools.FFprobePath != filepath.Join(dir, "ffprobe") {
		t.Errorf("FFprobePath = %q", tools.FFprobePath)
	}
}

func TestLocate_Missing(t *testing.T) {
	_, err := Locate(t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Locate() error = %v, want ErrNotFound", err)
	}
}

func TestTools_VersionAndCheck(t *testing.T) {
	tools, err := Locate(fakeTools(t))
	if err != nil {
		t.Fatal(err)
	}

	v, err := tools.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if v != "ffmpeg version 6.1-test Copyright (c)" {
		t.Errorf("Version() = %q", v)
	}
	if err := tools.Check(context.Background()); err != nil {
		t.Errorf("Check() error: %v", err)
	}
}

func TestTools_Probe(t *testing.T) {
	tools, err := Locate(fakeTools(t))
	if err != nil {
		t.Fatal(err)
	}

	media := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(media, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := tools.Probe(context.Background(), media)
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	if info.FileSize != 10 || info.VideoCodec != "h264" {
		t.Errorf("info = %+v", info)
	}

	if _, err := tools.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("Probe() should fail for a missing file")
	}
}
