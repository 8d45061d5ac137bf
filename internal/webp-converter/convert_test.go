package webp_converter

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/chai2010/webp"
)

func TestEncode(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 8), B: 90, A: 255})
		}
	}

	out, err := Converter{}.Encode(src, 20)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not webp: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Fatalf("got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestEncode_BadQuality(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for _, q := range []float32{0, -1, 101} {
		if _, err := (Converter{}).Encode(src, q); err == nil {
			t.Fatalf("quality %v: expected error", q)
		}
	}
}
