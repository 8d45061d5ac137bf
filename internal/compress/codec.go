package compress

import (
	"bytes"

	"github.com/trunov/rote-media/internal/processor"
	webp_converter "github.com/trunov/rote-media/internal/webp-converter"
)

// Codec re-encodes image bytes to WebP with the longer edge capped at
// maxEdge. quality is on the 0..1 scale.
type Codec interface {
	Encode(data []byte, mimeType string, maxEdge int, quality float64) (out []byte, width, height int, err error)
}

// WebPCodec decodes with the processor package and encodes with the webp
// converter.
type WebPCodec struct {
	conv webp_converter.Converter
}

func (c WebPCodec) Encode(data []byte, mimeType string, maxEdge int, quality float64) ([]byte, int, int, error) {
	img, err := processor.LoadImage(bytes.NewReader(data), mimeType, processor.EdgeLimiter{MaxEdge: maxEdge})
	if err != nil {
		return nil, 0, 0, &TransformError{Stage: StageDecode, Err: err}
	}

	out, err := c.conv.Encode(img, float32(quality*100))
	if err != nil {
		return nil, 0, 0, &TransformError{Stage: StageEncode, Err: err}
	}

	w, h := processor.Bounds(img)
	return out, w, h, nil
}
