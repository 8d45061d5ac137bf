package processor

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// ImageModifier defines an image modifier
type ImageModifier interface {
	Modify(img image.Image) image.Image
}

// EdgeLimiter scales an image down so its longer edge is at most MaxEdge.
// Images already within the limit are returned untouched.
type EdgeLimiter struct {
	MaxEdge int
}

func (r EdgeLimiter) Modify(img image.Image) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	if w == 0 || h == 0 || r.MaxEdge <= 0 {
		return img
	}

	long := w
	if h > long {
		long = h
	}
	if long <= r.MaxEdge {
		return img
	}

	// imaging keeps the aspect ratio when one side is 0
	if w >= h {
		return imaging.Resize(img, r.MaxEdge, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, r.MaxEdge, imaging.Lanczos)
}

// Decoder returns a decoder for the given media type.
func Decoder(mimeType string) (func(io.Reader) (image.Image, error), error) {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return png.Decode, nil
	case "image/jpeg", "image/jpg":
		return jpeg.Decode, nil
	case "image/webp":
		return webp.Decode, nil
	case "image/bmp", "image/tiff":
		return func(r io.Reader) (image.Image, error) {
			return imaging.Decode(r, imaging.AutoOrientation(true))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}
}

// LoadImage reads an image of the given media type and applies the
// modifiers in order.
func LoadImage(r io.Reader, mimeType string, modifiers ...ImageModifier) (image.Image, error) {
	decode, err := Decoder(mimeType)
	if err != nil {
		return nil, err
	}

	img, err := decode(r)
	if err != nil {
		return nil, err
	}

	for _, modifier := range modifiers {
		img = modifier.Modify(img)
	}

	return img, nil
}

func Bounds(img image.Image) (int, int) {
	return img.Bounds().Dx(), img.Bounds().Dy()
}
