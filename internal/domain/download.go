package domain

import (
	"encoding/base64"
	"strings"
	"unicode"
)

// Kind selects the kind of media a download produces.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind normalises a user supplied kind. Empty input means video.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "video":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	default:
		return "", ErrInvalidKind
	}
}

// MIMEType returns the content type served for the kind.
func (k Kind) MIMEType() string {
	if k == KindAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// DownloadRequest describes one download.
type DownloadRequest struct {
	URL  string
	Kind Kind

	// Format is an explicit extractor format code. Empty selects the kind's default.
	Format string

	// Container is the merge container for video, or the target codec for audio.
	Container string

	// Quality is the audio bitrate in kbps. Ignored for video.
	Quality string

	// OutputPath, when set, is where the finished file is moved to.
	OutputPath string
}

// Validate checks the request invariants and fills the default kind.
func (r *DownloadRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return ErrEmptyURL
	}
	if r.Kind == "" {
		r.Kind = KindVideo
	}
	if r.Kind != KindVideo && r.Kind != KindAudio {
		return ErrInvalidKind
	}
	return nil
}

// DownloadSuccess holds the outcome of a completed download.
type DownloadSuccess struct {
	FilePath    string  `json:"file_path"`
	Title       string  `json:"title"`
	Duration    float64 `json:"duration"`
	Uploader    string  `json:"uploader"`
	ViewCount   int64   `json:"view_count"`
	LikeCount   int64   `json:"like_count"`
	Description string  `json:"description"`
	Thumbnail   string  `json:"thumbnail"`
	WebpageURL  string  `json:"webpage_url"`
	Extractor   string  `json:"extractor"`
	Ext         string  `json:"ext"`
}

// DownloadResult is either a success or a failure message, never both.
type DownloadResult struct {
	Success *DownloadSuccess
	Err     string
}

// Succeeded wraps a success record.
func Succeeded(s *DownloadSuccess) DownloadResult {
	return DownloadResult{Success: s}
}

// Failed wraps a failure message.
func Failed(msg string) DownloadResult {
	return DownloadResult{Err: msg}
}

// OK reports whether the result is a success.
func (r DownloadResult) OK() bool {
	return r.Success != nil
}

// Filename is the name offered to the user for the file: the sanitized title
// plus the file's extension, or mp4/mp3 when the extension is unknown.
func (s *DownloadSuccess) Filename(kind Kind) string {
	ext := s.Ext
	if ext == "" {
		ext = "mp4"
		if kind == KindAudio {
			ext = "mp3"
		}
	}
	return SanitizeFilename(s.Title) + "." + ext
}

// SanitizeFilename strips characters that are unsafe in a file name or a
// quoted header value. An empty result becomes "video".
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '"':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "video"
	}
	return name
}

// Blob carries a downloaded file inline as base64.
type Blob struct {
	Blob     string  `json:"blob"`
	Filename string  `json:"filename"`
	MIMEType string  `json:"mime_type"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	FileSize int64   `json:"file_size"`
}

// NewBlob encodes data, the contents of the file described by s.
func NewBlob(s *DownloadSuccess, kind Kind, data []byte) *Blob {
	return &Blob{
		Blob:     base64.StdEncoding.EncodeToString(data),
		Filename: s.Filename(kind),
		MIMEType: kind.MIMEType(),
		Title:    s.Title,
		Duration: s.Duration,
		FileSize: int64(len(data)),
	}
}
