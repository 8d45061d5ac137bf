package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img
}

func TestEdgeLimiter(t *testing.T) {
	cases := []struct {
		name      string
		w, h, max int
		wantW     int
		wantH     int
	}{
		{name: "landscape", w: 400, h: 200, max: 100, wantW: 100, wantH: 50},
		{name: "portrait", w: 120, h: 480, max: 240, wantW: 60, wantH: 240},
		{name: "within limit", w: 80, h: 60, max: 100, wantW: 80, wantH: 60},
		{name: "no limit", w: 80, h: 60, max: 0, wantW: 80, wantH: 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := EdgeLimiter{MaxEdge: tc.max}.Modify(solid(tc.w, tc.h))
			w, h := Bounds(out)
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("got %dx%d want %dx%d", w, h, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestLoadImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(300, 100)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	img, err := LoadImage(bytes.NewReader(buf.Bytes()), "image/png", EdgeLimiter{MaxEdge: 150})
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if w, h := Bounds(img); w != 150 || h != 50 {
		t.Fatalf("got %dx%d", w, h)
	}

	if _, err := LoadImage(bytes.NewReader(buf.Bytes()), "image/svg+xml"); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := LoadImage(bytes.NewReader([]byte("not a png")), "image/png"); err == nil {
		t.Fatalf("expected decode error")
	}
}
