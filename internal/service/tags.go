package service

import (
	"fmt"
	"strconv"

	"github.com/bogem/id3v2"

	"github.com/iconidentify/vidfetch/internal/domain"
	"github.com/iconidentify/vidfetch/internal/downloader"
)

// writeID3Tags stamps title, artist and year onto an mp3 file, plus a
// front cover when art is non-nil.
func writeID3Tags(path string, meta *domain.VideoMetadata, art *downloader.Artwork) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("id3 open: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if meta.Title != "" {
		tag.SetTitle(meta.Title)
	}
	if meta.Uploader != "" {
		tag.SetArtist(meta.Uploader)
	}
	if year := meta.Year(); year > 0 {
		tag.SetYear(strconv.Itoa(year))
	}
	if art != nil && len(art.Data) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    art.MIMEType,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     art.Data,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("id3 save: %w", err)
	}
	return nil
}
