package extractor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/menta2k/unified-cropper/pkg/types"
)

// createTestImage fills each pixel with its coordinates so copies can be checked exactly.
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestPixelBounds(t *testing.T) {
	tests := []struct {
		in   types.Rect
		want image.Rectangle
	}{
		{types.NewRect(10, 20, 30, 40), image.Rect(10, 20, 40, 60)},
		{types.NewRect(10.7, 20.2, 30.9, 40.5), image.Rect(10, 20, 40, 60)},
		{types.NewRect(-3.5, -0.5, 10, 10), image.Rect(-4, -1, 6, 9)},
	}
	for _, tt := range tests {
		if got := PixelBounds(tt.in); got != tt.want {
			t.Errorf("PixelBounds(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExtractCopiesRegion(t *testing.T) {
	src := createTestImage(100, 80)
	out, err := Extract(src, types.NewRect(10, 20, 30, 40))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.Bounds().Dx() != 30 || out.Bounds().Dy() != 40 {
		t.Fatalf("expected 30x40, got %v", out.Bounds())
	}
	for _, p := range []image.Point{{0, 0}, {29, 39}, {15, 7}} {
		got := out.NRGBAAt(p.X, p.Y)
		want := src.NRGBAAt(p.X+10, p.Y+20)
		if got != want {
			t.Errorf("pixel %v: got %v want %v", p, got, want)
		}
	}
}

func TestExtractOutsideSourceIsTransparent(t *testing.T) {
	src := createTestImage(50, 50)
	out, err := Extract(src, types.NewRect(-10, 40, 30, 20))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.Bounds().Dx() != 30 || out.Bounds().Dy() != 20 {
		t.Fatalf("output must keep the requested size, got %v", out.Bounds())
	}
	if a := out.NRGBAAt(0, 0).A; a != 0 {
		t.Errorf("expected transparent pixel left of source, alpha=%d", a)
	}
	if a := out.NRGBAAt(15, 15).A; a != 0 {
		t.Errorf("expected transparent pixel below source, alpha=%d", a)
	}
	if got, want := out.NRGBAAt(10, 0), src.NRGBAAt(0, 40); got != want {
		t.Errorf("expected source pixel, got %v want %v", got, want)
	}

	empty, err := Extract(src, types.NewRect(500, 500, 60, 60))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if empty.NRGBAAt(30, 30).A != 0 {
		t.Error("expected fully transparent crop")
	}
}

func TestExtractHonoursSourceOrigin(t *testing.T) {
	full := createTestImage(100, 100)
	sub := full.SubImage(image.Rect(20, 20, 80, 80))
	out, err := Extract(sub, types.NewRect(0, 0, 10, 10))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got, want := out.NRGBAAt(0, 0), full.NRGBAAt(20, 20); got != want {
		t.Errorf("expected pixel relative to bounds origin, got %v want %v", got, want)
	}
}

func TestExtractDegenerate(t *testing.T) {
	src := createTestImage(10, 10)
	for _, r := range []types.Rect{types.NewRect(0, 0, 0.9, 5), types.NewRect(0, 0, 5, 0)} {
		if _, err := Extract(src, r); !errors.Is(err, types.ErrDegenerateGeometry) {
			t.Errorf("rect %v: expected degenerate geometry error, got %v", r, err)
		}
	}
}

func TestCropEncodesAndNames(t *testing.T) {
	e := NewWithConfig(Config{Now: func() time.Time { return time.UnixMilli(1700000000000) }})
	out, err := e.Crop(createTestImage(64, 64), types.NewRect(8, 8, 16, 24))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Name != "IMG_1700000000000.png" {
		t.Errorf("unexpected name %q", out.Name)
	}
	if out.Type != ImageType {
		t.Errorf("unexpected type %q", out.Type)
	}
	decoded, err := png.Decode(bytes.NewReader(out.Bytes))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 16 || decoded.Bounds().Dy() != 24 {
		t.Errorf("expected 16x24, got %v", decoded.Bounds())
	}
}

func BenchmarkExtract(b *testing.B) {
	src := createTestImage(1920, 1080)
	r := types.NewRect(300.4, 200.6, 800, 600)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Extract(src, r)
	}
}
