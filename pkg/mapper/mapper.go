// Package mapper converts crop rectangles between screen space and the
// source image's pixel grid for the two ways an image can be displayed.
package mapper

import (
	"fmt"
	"math"

	"github.com/menta2k/unified-cropper/pkg/types"
)

// Fit is how a source image is laid out on its viewing surface.
type Fit int

const (
	// FullBleed stretches the image over the whole view with an independent scale per axis.
	FullBleed Fit = iota
	// Contained scales uniformly to fit inside the view and centers it with letterboxing.
	Contained
)

func (f Fit) String() string {
	switch f {
	case FullBleed:
		return "full-bleed"
	case Contained:
		return "contained"
	}
	return fmt.Sprintf("fit(%d)", int(f))
}

// Surface describes a source image rendered into a view.
type Surface struct {
	Fit Fit
	// Natural is the decoded image size in pixels.
	Natural types.Size
	// View is the viewing region in absolute screen coordinates.
	View types.Rect
}

// Layout is where the image ends up on screen.
type Layout struct {
	// Displayed is the on-screen rectangle covered by the image.
	Displayed types.Rect
	// ScaleX and ScaleY are screen units per source pixel.
	ScaleX float64
	ScaleY float64
	// OffsetX and OffsetY are the letterbox margins inside View (zero for FullBleed).
	OffsetX float64
	OffsetY float64
}

// Validate reports ErrDegenerateGeometry when the surface is not laid out or the image not decoded.
func (s Surface) Validate() error {
	if s.Natural.IsZero() {
		return fmt.Errorf("%w: natural size %vx%v", types.ErrDegenerateGeometry, s.Natural.Width, s.Natural.Height)
	}
	if s.View.IsEmpty() {
		return fmt.Errorf("%w: view size %vx%v", types.ErrDegenerateGeometry, s.View.Width, s.View.Height)
	}
	if s.Fit != FullBleed && s.Fit != Contained {
		return fmt.Errorf("unknown surface fit %s", s.Fit)
	}
	return nil
}

// Layout computes the displayed image rectangle and scale factors.
func (s Surface) Layout() (Layout, error) {
	if err := s.Validate(); err != nil {
		return Layout{}, err
	}
	if s.Fit == FullBleed {
		return Layout{
			Displayed: s.View,
			ScaleX:    s.View.Width / s.Natural.Width,
			ScaleY:    s.View.Height / s.Natural.Height,
		}, nil
	}
	scale := math.Min(s.View.Width/s.Natural.Width, s.View.Height/s.Natural.Height)
	dw, dh := s.Natural.Width*scale, s.Natural.Height*scale
	offX, offY := (s.View.Width-dw)/2, (s.View.Height-dh)/2
	return Layout{
		Displayed: types.Rect{Left: s.View.Left + offX, Top: s.View.Top + offY, Width: dw, Height: dh},
		ScaleX:    scale,
		ScaleY:    scale,
		OffsetX:   offX,
		OffsetY:   offY,
	}, nil
}

// MapToSource converts a screen-space crop rectangle into source-pixel space.
// The result is not rounded; rounding happens once, at extraction.
func MapToSource(crop types.Rect, s Surface) (types.Rect, error) {
	l, err := s.Layout()
	if err != nil {
		return types.Rect{}, err
	}
	if s.Fit == FullBleed {
		sx := s.Natural.Width / s.View.Width
		sy := s.Natural.Height / s.View.Height
		return types.Rect{
			Left:   (crop.Left - s.View.Left) * sx,
			Top:    (crop.Top - s.View.Top) * sy,
			Width:  crop.Width * sx,
			Height: crop.Height * sy,
		}, nil
	}
	// Crop and container are both absolute; bring the crop into the container's
	// frame, then remove the letterbox margin.
	return types.Rect{
		Left:   (crop.Left - s.View.Left - l.OffsetX) / l.ScaleX,
		Top:    (crop.Top - s.View.Top - l.OffsetY) / l.ScaleY,
		Width:  crop.Width / l.ScaleX,
		Height: crop.Height / l.ScaleY,
	}, nil
}

// MapToScreen converts a source-pixel rectangle back to screen space.
func MapToScreen(src types.Rect, s Surface) (types.Rect, error) {
	l, err := s.Layout()
	if err != nil {
		return types.Rect{}, err
	}
	return types.Rect{
		Left:   l.Displayed.Left + src.Left*l.ScaleX,
		Top:    l.Displayed.Top + src.Top*l.ScaleY,
		Width:  src.Width * l.ScaleX,
		Height: src.Height * l.ScaleY,
	}, nil
}

// FromNormalized converts a [0,1] box into source pixels of an image of the given size.
func FromNormalized(b types.Box, natural types.Size) types.Rect {
	return types.Rect{
		Left:   b.X * natural.Width,
		Top:    b.Y * natural.Height,
		Width:  b.W * natural.Width,
		Height: b.H * natural.Height,
	}
}
