package extractor

import (
	"context"
	"errors"
)

// Extractor resolves media URLs and downloads their streams.
type Extractor interface {
	// FetchInfo returns the metadata record for url without downloading anything.
	FetchInfo(ctx context.Context, url string) (*Info, error)

	// Download fetches url according to opts. Files are written under
	// opts.OutputTemplate. The returned Info carries the metadata record and a
	// best-effort output filename that callers must verify on disk.
	Download(ctx context.Context, url string, opts Options) (*Info, error)
}

// Options controls a single download.
type Options struct {
	// Format is the engine format selector, e.g. "137+251" or "bestaudio/best".
	Format string

	// OutputTemplate is a path with an extension placeholder, e.g. "/tmp/abc.%(ext)s".
	OutputTemplate string

	// MergeOutputFormat is the container used when separate streams are merged.
	MergeOutputFormat string

	Quiet bool

	// ExtractAudio, when set, converts the download to an audio-only file.
	ExtractAudio *AudioExtraction
}

// AudioExtraction is the audio post-processing step.
type AudioExtraction struct {
	Codec   string
	Quality string
}

// Info is the engine's description of a source.
type Info struct {
	Raw      map[string]any
	Filename string
}

// Error is a failure reported by the extraction engine itself: bad URL,
// unavailable video, geo-block or network failure. Message is shown to users as is.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError reports whether err is, or wraps, an engine failure.
func AsError(err error) (*Error, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
