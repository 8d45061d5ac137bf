package webp_converter

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
)

type Converter struct{}

// Encode writes img as lossy WebP. quality is on the 0..100 scale.
func (Converter) Encode(img image.Image, quality float32) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		return nil, fmt.Errorf("webp quality out of range: %v", quality)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: quality}); err != nil {
		return nil, fmt.Errorf("error encoding to webp: %w", err)
	}

	return buf.Bytes(), nil
}
