package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/extractor"
)

// MetadataService answers metadata and format queries without downloading.
type MetadataService struct {
	extractor extractor.Extractor
	logger    *slog.Logger
}

// NewMetadataService creates a new metadata service.
func NewMetadataService(ex extractor.Extractor, logger *slog.Logger) *MetadataService {
	return &MetadataService{
		extractor: ex,
		logger:    logger,
	}
}

// GetVideoInfo returns the full metadata record for url, unfiltered.
func (s *MetadataService) GetVideoInfo(ctx context.Context, url string) (*domain.VideoMetadata, error) {
	raw, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	meta, err := decodeMetadata(raw)
	if err != nil {
		return nil, s.queryError(url, err)
	}
	return meta, nil
}

// GetAvailableFormats returns the source formats split into video-capable
// and audio-only lists, in the order the extractor reported them.
func (s *MetadataService) GetAvailableFormats(ctx context.Context, url string) (*domain.FormatListing, error) {
	raw, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var head struct {
		Title    string           `mapstructure:"title"`
		Duration float64          `mapstructure:"duration"`
		Formats  []map[string]any `mapstructure:"formats"`
	}
	if err := mapstructure.WeakDecode(raw, &head); err != nil {
		return nil, s.queryError(url, fmt.Errorf("decode formats: %w", err))
	}

	listing := &domain.FormatListing{
		VideoFormats: []domain.FormatDescriptor{},
		AudioFormats: []domain.FormatDescriptor{},
		Title:        head.Title,
		Duration:     head.Duration,
	}
	for i, f := range head.Formats {
		var d domain.FormatDescriptor
		if err := mapstructure.WeakDecode(f, &d); err != nil {
			s.logger.Debug("skipping undecodable format", "index", i, "error", err)
			continue
		}
		switch {
		case d.HasVideo():
			listing.VideoFormats = append(listing.VideoFormats, d)
		case d.HasAudio():
			listing.AudioFormats = append(listing.AudioFormats, d)
		}
	}
	return listing, nil
}

func (s *MetadataService) fetch(ctx context.Context, url string) (map[string]any, error) {
	if url == "" {
		return nil, &domain.QueryError{Message: domain.ErrEmptyURL.Error(), Err: domain.ErrEmptyURL}
	}

	info, err := s.extractor.FetchInfo(ctx, url)
	if err != nil {
		return nil, s.queryError(url, err)
	}
	return info.Raw, nil
}

func (s *MetadataService) queryError(url string, err error) error {
	if ee, ok := extractor.AsError(err); ok {
		s.logger.Warn("extractor reported failure", "url", url, "error", ee.Message)
		return &domain.QueryError{Message: ee.Message, Err: err}
	}
	s.logger.Error("metadata query failed", "url", url, "error", err)
	return &domain.QueryError{Message: domain.UnexpectedPrefix + err.Error(), Err: err}
}

// decodeMetadata maps the raw extractor record onto VideoMetadata. Numeric
// fields arrive as float64 and some fields may be null.
func decodeMetadata(raw map[string]any) (*domain.VideoMetadata, error) {
	var meta domain.VideoMetadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &meta,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}
