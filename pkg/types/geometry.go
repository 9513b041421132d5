package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a screen-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Size is a width/height pair. Zero is representable but degenerate.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether either dimension is zero or negative.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// Rect is an axis-aligned rectangle in either screen or source-pixel space.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect creates a Rect from its position and dimensions.
func NewRect(left, top, width, height float64) Rect {
	return Rect{Left: left, Top: top, Width: width, Height: height}
}

// Right returns the x-coordinate of the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the y-coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Origin returns the top-left corner.
func (r Rect) Origin() Point { return Point{X: r.Left, Y: r.Top} }

// Size returns the rectangle dimensions.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// IsEmpty reports whether the rectangle has zero or negative area.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// CenteredIn returns a rectangle of size s centered inside r.
func (r Rect) CenteredIn(s Size) Rect {
	return Rect{
		Left:   r.Left + (r.Width-s.Width)/2,
		Top:    r.Top + (r.Height-s.Height)/2,
		Width:  s.Width,
		Height: s.Height,
	}
}

// ApproxEqual compares two rectangles within tol on every field.
func (r Rect) ApproxEqual(o Rect, tol float64) bool {
	return math.Abs(r.Left-o.Left) <= tol &&
		math.Abs(r.Top-o.Top) <= tol &&
		math.Abs(r.Width-o.Width) <= tol &&
		math.Abs(r.Height-o.Height) <= tol
}

func (r Rect) String() string {
	return fmt.Sprintf("%.2fx%.2f@%.2f,%.2f", r.Width, r.Height, r.Left, r.Top)
}

// AspectConstraint locks height/width to Denominator/Numerator.
type AspectConstraint struct {
	Numerator   float64 `json:"numerator"`
	Denominator float64 `json:"denominator"`
}

// HeightFor returns the height matching width under the constraint.
func (a AspectConstraint) HeightFor(width float64) float64 {
	return width * (a.Denominator / a.Numerator)
}

// WidthFor returns the width matching height under the constraint.
func (a AspectConstraint) WidthFor(height float64) float64 {
	return height * (a.Numerator / a.Denominator)
}

// Ratio returns height/width.
func (a AspectConstraint) Ratio() float64 { return a.Denominator / a.Numerator }

func (a AspectConstraint) String() string {
	return strconv.FormatFloat(a.Numerator, 'g', -1, 64) + ":" + strconv.FormatFloat(a.Denominator, 'g', -1, 64)
}

// ParseAspectRatio parses a "W:H" string. Both parts must be positive numbers.
func ParseAspectRatio(s string) (*AspectConstraint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q must have the form W:H", ErrInvalidAspectRatio, s)
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAspectRatio, s, err)
	}
	den, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAspectRatio, s, err)
	}
	if !(num > 0) || !(den > 0) || math.IsInf(num, 0) || math.IsInf(den, 0) {
		return nil, fmt.Errorf("%w: %q parts must be positive", ErrInvalidAspectRatio, s)
	}
	return &AspectConstraint{Numerator: num, Denominator: den}, nil
}
