package domain

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// VideoMetadata is the full record the extractor reports for a source URL.
type VideoMetadata struct {
	ID          string  `mapstructure:"id" json:"id"`
	Title       string  `mapstructure:"title" json:"title"`
	Duration    float64 `mapstructure:"duration" json:"duration"`
	Uploader    string  `mapstructure:"uploader" json:"uploader"`
	UploadDate  string  `mapstructure:"upload_date" json:"upload_date"`
	ViewCount   int64   `mapstructure:"view_count" json:"view_count"`
	LikeCount   int64   `mapstructure:"like_count" json:"like_count"`
	Description string  `mapstructure:"description" json:"description"`
	Thumbnail   string  `mapstructure:"thumbnail" json:"thumbnail"`
	WebpageURL  string  `mapstructure:"webpage_url" json:"webpage_url"`
	Extractor   string  `mapstructure:"extractor" json:"extractor"`

	Thumbnails []Thumbnail `mapstructure:"thumbnails" json:"thumbnails,omitempty"`

	Tags         []string `mapstructure:"tags" json:"tags"`
	Categories   []string `mapstructure:"categories" json:"categories"`
	AgeLimit     int      `mapstructure:"age_limit" json:"age_limit"`
	IsLive       bool     `mapstructure:"is_live" json:"is_live"`
	WasLive      bool     `mapstructure:"was_live" json:"was_live"`
	LiveStatus   string   `mapstructure:"live_status" json:"live_status"`
	Availability string   `mapstructure:"availability" json:"availability"`

	Formats           []map[string]any `mapstructure:"formats" json:"formats"`
	AutomaticCaptions map[string]any   `mapstructure:"automatic_captions" json:"automatic_captions"`
	Subtitles         map[string]any   `mapstructure:"subtitles" json:"subtitles"`
	Chapters          []map[string]any `mapstructure:"chapters" json:"chapters"`
	Heatmap           []map[string]any `mapstructure:"heatmap" json:"heatmap"`
}

// Success builds the success record for a file located at path.
func (m *VideoMetadata) Success(path, ext string) *DownloadSuccess {
	title := m.Title
	if title == "" {
		title = "video"
	}
	return &DownloadSuccess{
		FilePath:    path,
		Title:       title,
		Duration:    m.Duration,
		Uploader:    m.Uploader,
		ViewCount:   m.ViewCount,
		LikeCount:   m.LikeCount,
		Description: m.Description,
		Thumbnail:   m.Thumbnail,
		WebpageURL:  m.WebpageURL,
		Extractor:   m.Extractor,
		Ext:         ext,
	}
}

// Year returns the upload year, or zero if the upload date is missing.
func (m *VideoMetadata) Year() int {
	t, err := time.Parse("20060102", m.UploadDate)
	if err != nil {
		return 0
	}
	return t.Year()
}

// Thumbnail is one entry of the source's thumbnail list.
type Thumbnail struct {
	ID         string `mapstructure:"id" json:"id"`
	URL        string `mapstructure:"url" json:"url"`
	Width      int    `mapstructure:"width" json:"width,omitempty"`
	Height     int    `mapstructure:"height" json:"height,omitempty"`
	Preference int    `mapstructure:"preference" json:"preference,omitempty"`
}

// CoverURL returns the best JPEG or PNG thumbnail for embedding as cover art.
// Entries are ranked by preference, then by pixel area. When none qualifies,
// a YouTube webp thumbnail is mapped to its jpg twin; otherwise Thumbnail is
// returned unchanged.
func (m *VideoMetadata) CoverURL() string {
	var best *Thumbnail
	for i := range m.Thumbnails {
		t := &m.Thumbnails[i]
		if !isCoverImage(t.URL) {
			continue
		}
		if best == nil || t.Preference > best.Preference ||
			(t.Preference == best.Preference && t.Width*t.Height >= best.Width*best.Height) {
			best = t
		}
	}
	if best != nil {
		return best.URL
	}

	if isCoverImage(m.Thumbnail) {
		return m.Thumbnail
	}
	if strings.Contains(m.Thumbnail, "/vi_webp/") && strings.HasSuffix(m.Thumbnail, ".webp") {
		jpg := strings.Replace(m.Thumbnail, "/vi_webp/", "/vi/", 1)
		return strings.TrimSuffix(jpg, ".webp") + ".jpg"
	}
	return m.Thumbnail
}

func isCoverImage(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// FormatDescriptor describes one stream offered by the source.
type FormatDescriptor struct {
	FormatID   string  `mapstructure:"format_id" json:"format_id"`
	Ext        string  `mapstructure:"ext" json:"ext"`
	FileSize   int64   `mapstructure:"filesize" json:"filesize"`
	FormatNote string  `mapstructure:"format_note" json:"format_note"`
	Height     int     `mapstructure:"height" json:"height"`
	Width      int     `mapstructure:"width" json:"width"`
	FPS        float64 `mapstructure:"fps" json:"fps"`
	VCodec     string  `mapstructure:"vcodec" json:"vcodec"`
	ACodec     string  `mapstructure:"acodec" json:"acodec"`
	ABR        float64 `mapstructure:"abr" json:"abr"`
	ASR        int     `mapstructure:"asr" json:"asr"`
}

// HasVideo reports whether the stream carries video.
func (f FormatDescriptor) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the stream carries audio.
func (f FormatDescriptor) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// FormatListing partitions the source formats by capability.
type FormatListing struct {
	VideoFormats []FormatDescriptor `json:"video_formats"`
	AudioFormats []FormatDescriptor `json:"audio_formats"`
	Title        string             `json:"title"`
	Duration     float64            `json:"duration"`
}

// Truncate returns a copy with each list cut to at most n entries.
func (l *FormatListing) Truncate(n int) *FormatListing {
	out := *l
	if n > 0 && len(out.VideoFormats) > n {
		out.VideoFormats = out.VideoFormats[:n]
	}
	if n > 0 && len(out.AudioFormats) > n {
		out.AudioFormats = out.AudioFormats[:n]
	}
	return &out
}

// DailyStats is a snapshot of the download counter.
type DailyStats struct {
	Day            string `json:"day" db:"day"`
	DownloadsToday int64  `json:"downloads_today" db:"downloads"`
	TotalDownloads int64  `json:"total_downloads" db:"total"`
}

// Today returns the counter key for the current UTC day.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}
