package compress

import (
	"context"
	"errors"
	"fmt"

	"github.com/trunov/rote-media/internal/entities"
)

const (
	OutputMimeType = "image/webp"
	OutputExt      = ".webp"
)

type Options struct {
	MaxEdge int
	Quality float64
}

// Asset is a re-encoded copy of a file.
type Asset struct {
	Data     []byte
	MimeType string
	Ext      string
	Width    int
	Height   int
}

type Transformer struct {
	codec Codec
}

func NewTransformer(codec Codec) *Transformer {
	if codec == nil {
		codec = WebPCodec{}
	}
	return &Transformer{codec: codec}
}

func (o Options) withDefaults(size int64) (Options, error) {
	if o.MaxEdge <= 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.Quality <= 0 {
		o.Quality = QualityFor(size)
	}
	if o.Quality > 1 {
		return o, fmt.Errorf("%w: quality %v above 1", ErrInvalidOptions, o.Quality)
	}
	return o, nil
}

// Transform re-encodes f as WebP. It returns a nil Asset and no error when f
// is not eligible for compression. The codec runs on its own goroutine; if ctx
// ends first Transform returns ctx.Err() and the result is discarded.
func (t *Transformer) Transform(ctx context.Context, f entities.File, opts Options) (*Asset, error) {
	if !Eligible(f.MimeType) {
		return nil, nil
	}

	opts, err := opts.withDefaults(f.Size)
	if err != nil {
		return nil, err
	}

	type result struct {
		asset *Asset
		err   error
	}
	done := make(chan result, 1)

	go func() {
		out, w, h, err := t.codec.Encode(f.Data, normalize(f.MimeType), opts.MaxEdge, opts.Quality)
		if err != nil {
			done <- result{err: wrap(f.Name, err)}
			return
		}
		done <- result{asset: &Asset{
			Data:     out,
			MimeType: OutputMimeType,
			Ext:      OutputExt,
			Width:    w,
			Height:   h,
		}}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.asset, r.err
	}
}

func wrap(name string, err error) error {
	var te *TransformError
	if errors.As(err, &te) {
		return &TransformError{Name: name, Stage: te.Stage, Err: te.Err}
	}
	return &TransformError{Name: name, Stage: StageEncode, Err: err}
}
