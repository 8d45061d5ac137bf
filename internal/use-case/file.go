package use_case

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/trunov/rote-media/internal/entities"
)

// NewFile wraps raw bytes as a File, detecting the media type from content.
// Client-declared types and file name extensions are not trusted.
func NewFile(name string, data []byte) entities.File {
	mt := mimetype.Detect(data)
	mimeType, _, _ := strings.Cut(mt.String(), ";")
	return entities.File{
		Name:     name,
		MimeType: strings.TrimSpace(mimeType),
		Ext:      mt.Extension(),
		Size:     int64(len(data)),
		Data:     data,
	}
}
