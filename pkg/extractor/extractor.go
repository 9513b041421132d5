// Package extractor copies the selected source-pixel region out of a decoded
// image and encodes it.
package extractor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/unified-cropper/internal/utils"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// ImageType is the extension of every emitted crop.
const ImageType = ".png"

// DefaultPrefix starts every generated file name.
const DefaultPrefix = "IMG_"

// Config holds configuration for the extractor
type Config struct {
	Prefix string
	// Now is the clock used for file names; nil means time.Now.
	Now func() time.Time
}

// Extractor produces encoded crops.
type Extractor struct {
	config Config
}

// Output is a single extracted crop.
type Output struct {
	Image  *image.NRGBA
	Bytes  []byte
	Name   string
	Type   string
	Bounds image.Rectangle
	At     time.Time
}

// New creates an Extractor with default configuration
func New() *Extractor {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an Extractor with custom configuration
func NewWithConfig(config Config) *Extractor {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Extractor{config: config}
}

// PixelBounds converts a source-pixel rectangle to integer pixel bounds.
// This is the only place fractional coordinates are rounded: the origin is
// floored and the size truncated.
func PixelBounds(r types.Rect) image.Rectangle {
	x0 := int(math.Floor(r.Left))
	y0 := int(math.Floor(r.Top))
	return image.Rect(x0, y0, x0+int(r.Width), y0+int(r.Height))
}

// Extract returns an image exactly as large as the pixel bounds of r holding the
// source pixels inside r. Parts of r outside the source stay transparent.
func Extract(img image.Image, r types.Rect) (*image.NRGBA, error) {
	px := PixelBounds(r)
	if px.Dx() < 1 || px.Dy() < 1 {
		return nil, fmt.Errorf("%w: crop %v rounds to %dx%d", types.ErrDegenerateGeometry, r, px.Dx(), px.Dy())
	}

	bounds := img.Bounds()
	srcRect := px.Add(bounds.Min)
	dst := imaging.New(px.Dx(), px.Dy(), color.NRGBA{})

	visible := srcRect.Intersect(bounds)
	if visible.Empty() {
		return dst, nil
	}
	part := imaging.Crop(img, visible)
	return imaging.Paste(dst, part, visible.Min.Sub(srcRect.Min)), nil
}

// Encode encodes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop extracts r from img, encodes it and names it.
func (e *Extractor) Crop(img image.Image, r types.Rect) (Output, error) {
	cropped, err := Extract(img, r)
	if err != nil {
		return Output{}, err
	}
	data, err := Encode(cropped)
	if err != nil {
		return Output{}, err
	}
	now := e.config.Now()
	return Output{
		Image:  cropped,
		Bytes:  data,
		Name:   utils.TimestampName(e.config.Prefix, now, ImageType),
		Type:   ImageType,
		Bounds: PixelBounds(r),
		At:     now,
	}, nil
}
