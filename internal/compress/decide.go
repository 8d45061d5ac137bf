package compress

import (
	"mime"
	"strings"
)

const (
	// DefaultQuality is the lossy quality factor on the 0..1 scale.
	DefaultQuality = 0.2
	// DefaultMaxEdge caps the longer edge of a compressed image, in pixels.
	DefaultMaxEdge = 2560
)

// Eligible reports whether a file of the given media type may be re-encoded.
// GIFs are excluded since the lossy transform drops animation.
func Eligible(mimeType string) bool {
	mt := normalize(mimeType)
	return strings.HasPrefix(mt, "image/") && mt != "image/gif"
}

// QualityFor returns the quality factor for a file of the given size. The
// factor is currently the same for every size.
func QualityFor(size int64) float64 {
	return DefaultQuality
}

func normalize(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
