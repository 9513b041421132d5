package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/unified-cropper/pkg/types"
)

// Processor handles image decoding, encoding and overlay rendering
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a new image processor
func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Decode decodes image bytes into a pixel-addressable image. Decoding runs on its
// own goroutine so the caller can abandon it through ctx; an abandoned decode
// finishes in the background and its result is dropped.
func (p *Processor) Decode(ctx context.Context, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &types.DecodeError{Err: errors.New("empty payload")}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("decode abandoned: %w", err)
	}
	type decoded struct {
		img image.Image
		err error
	}
	done := make(chan decoded, 1)
	go func() {
		img, err := p.decodeImageFromBytes(data)
		done <- decoded{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		p.logger.Debug("decode abandoned", "bytes", len(data), "error", ctx.Err())
		return nil, fmt.Errorf("decode abandoned: %w", ctx.Err())
	case d := <-done:
		if d.err != nil {
			return nil, &types.DecodeError{Err: d.err}
		}
		b := d.img.Bounds()
		if b.Dx() == 0 || b.Dy() == 0 {
			return nil, &types.DecodeError{Err: fmt.Errorf("%w: decoded image is %dx%d", types.ErrDegenerateGeometry, b.Dx(), b.Dy())}
		}
		return d.img, nil
	}
}

// DecodeBase64 decodes a base64 image payload, as delivered by camera and gallery plugins.
func (p *Processor) DecodeBase64(ctx context.Context, payload string) (image.Image, error) {
	// Tolerate data URLs ("data:image/png;base64,....").
	if i := strings.Index(payload, ","); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &types.DecodeError{Err: fmt.Errorf("invalid base64: %w", err)}
	}
	return p.Decode(ctx, data)
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func (p *Processor) decodeImageFromBytes(data []byte) (image.Image, error) {
	// Try standard image.Decode first
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	// Try WebP decode
	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.decodeImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s", path)
	}
	return img, nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CreateDebugOverlay dims everything outside crop and outlines it, the way the
// crop screen masks the preview.
func (p *Processor) CreateDebugOverlay(img image.Image, crop image.Rectangle) image.Image {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	w, h := b.Dx(), b.Dy()

	mask := image.NewUniform(color.NRGBA{0, 0, 0, 128})
	for _, r := range maskRects(b, crop) {
		draw.Draw(nrgba, r, mask, image.Point{}, draw.Over)
	}

	stroke := int(math.Max(2, 0.004*float64(minInt(w, h))))
	drawBox(nrgba, crop, color.NRGBA{255, 255, 255, 255}, stroke)

	// Resize handle marker at the bottom-center of the box.
	handle := color.NRGBA{197, 35, 35, 255}
	cx := (crop.Min.X + crop.Max.X) / 2
	for s := 0; s < stroke*2; s++ {
		drawHLine(nrgba, crop.Max.Y-1-s, cx-5*stroke, cx+5*stroke, handle)
	}
	return nrgba
}

// ShrinkToFit scales img down so neither side exceeds maxDim, keeping its
// aspect ratio. Images already within bounds, or maxDim <= 0, are returned as is.
func (p *Processor) ShrinkToFit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	scale := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	dw := int(math.Max(1, math.Round(float64(w)*scale)))
	dh := int(math.Max(1, math.Round(float64(h)*scale)))
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// maskRects returns the four bands of bounds around crop: top, bottom, left, right.
func maskRects(bounds, crop image.Rectangle) []image.Rectangle {
	c := crop.Intersect(bounds)
	if c.Empty() {
		return []image.Rectangle{bounds}
	}
	return []image.Rectangle{
		image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, c.Min.Y),
		image.Rect(bounds.Min.X, c.Max.Y, bounds.Max.X, bounds.Max.Y),
		image.Rect(bounds.Min.X, c.Min.Y, c.Min.X, c.Max.Y),
		image.Rect(c.Max.X, c.Min.Y, bounds.Max.X, c.Max.Y),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, r image.Rectangle, color color.NRGBA, stroke int) {
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, color)
		drawHLine(img, y1-1-s, x0, x1, color)
		drawVLine(img, x0+s, y0, y1, color)
		drawVLine(img, x1-1-s, y0, y1, color)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
