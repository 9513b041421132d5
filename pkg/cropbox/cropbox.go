// Package cropbox holds the crop rectangle in screen coordinates and the
// drag/resize transitions that mutate it.
//
// A Box is either Idle, Dragging or Resizing. Dragging and Resizing can only
// be entered from Idle and always return to Idle, so the two never overlap.
// Width and height never drop below MinDim after a resize, and when an
// AspectConstraint is set every resize keeps height/width at the locked ratio.
package cropbox

import (
	"log/slog"
	"math"

	"github.com/menta2k/unified-cropper/pkg/types"
)

const (
	// MinDim is the smallest width or height a user can resize the box to.
	MinDim = 50.0
	// CameraDefaultSide is the side of the default box on a full-bleed surface.
	CameraDefaultSide = 200.0
	// GalleryDefaultFraction is the default box size relative to the gallery container.
	GalleryDefaultFraction = 0.5
)

// State of the pointer interaction.
type State int

const (
	Idle State = iota
	Dragging
	Resizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	}
	return "unknown"
}

// Target is the element a pointer-down landed on.
type Target int

const (
	// TargetBox is the body of the crop box.
	TargetBox Target = iota
	// TargetHandle is the resize handle nested inside the box.
	TargetHandle
)

// Defaults describes the surface a reset centers the box in.
type Defaults struct {
	Kind types.SourceKind
	// Screen is the full viewing surface used for camera sources.
	Screen types.Size
	// Container is the gallery image container in absolute screen coordinates.
	Container types.Rect
}

// Box is the crop-box state machine. The zero value is not usable; call New.
type Box struct {
	rect   types.Rect
	aspect *types.AspectConstraint
	state  State

	start      types.Point
	anchorPos  types.Point
	anchorSize types.Size

	logger *slog.Logger
}

// New creates an idle box at rect.
func New(rect types.Rect, aspect *types.AspectConstraint, logger *slog.Logger) *Box {
	if logger == nil {
		logger = slog.Default()
	}
	return &Box{rect: rect, aspect: aspect, logger: logger}
}

// Rect returns the current crop rectangle in screen coordinates.
func (b *Box) Rect() types.Rect { return b.rect }

// State returns the current interaction state.
func (b *Box) State() State { return b.state }

// Aspect returns the active aspect constraint, or nil.
func (b *Box) Aspect() *types.AspectConstraint { return b.aspect }

// SetAspect replaces the aspect constraint. The rectangle is left as is until the next resize.
func (b *Box) SetAspect(a *types.AspectConstraint) { b.aspect = a }

// BeginDrag anchors a move at p. A pointer-down on the resize handle never starts a move.
func (b *Box) BeginDrag(p types.Point, target Target) bool {
	if target == TargetHandle || b.state != Idle {
		return false
	}
	b.state = Dragging
	b.start = p
	b.anchorPos = b.rect.Origin()
	b.logger.Debug("crop box drag started", "x", p.X, "y", p.Y, "rect", b.rect.String())
	return true
}

// UpdateDrag moves the box by the pointer delta since BeginDrag.
// The box is not clamped to any bounds and may leave the visible area.
func (b *Box) UpdateDrag(p types.Point) bool {
	if b.state != Dragging {
		return false
	}
	d := p.Sub(b.start)
	b.rect.Left = b.anchorPos.X + d.X
	b.rect.Top = b.anchorPos.Y + d.Y
	return true
}

// EndDrag returns to Idle without snapping.
func (b *Box) EndDrag() {
	if b.state != Dragging {
		return
	}
	b.state = Idle
	b.logger.Debug("crop box drag ended", "rect", b.rect.String())
}

// BeginResize anchors a resize at p.
func (b *Box) BeginResize(p types.Point) bool {
	if b.state != Idle {
		return false
	}
	b.state = Resizing
	b.start = p
	b.anchorSize = b.rect.Size()
	b.logger.Debug("crop box resize started", "x", p.X, "y", p.Y, "rect", b.rect.String())
	return true
}

// UpdateResize grows or shrinks the box from its bottom-right by the pointer delta.
// Under an aspect lock only horizontal movement counts; vertical movement is ignored.
func (b *Box) UpdateResize(p types.Point) bool {
	if b.state != Resizing {
		return false
	}
	d := p.Sub(b.start)
	w, h := b.constrain(b.anchorSize.Width+d.X, b.anchorSize.Height+d.Y)
	b.rect.Width, b.rect.Height = w, h
	return true
}

// EndResize returns to Idle.
func (b *Box) EndResize() {
	if b.state != Resizing {
		return
	}
	b.state = Idle
	b.logger.Debug("crop box resize ended", "rect", b.rect.String())
}

// End leaves whichever transition is active.
func (b *Box) End() {
	switch b.state {
	case Dragging:
		b.EndDrag()
	case Resizing:
		b.EndResize()
	}
}

// ResetToDefault places the box at its canonical size and position for the source.
// Camera sources get a fixed square centered on the screen; gallery sources get half of
// the container in each dimension, centered in the container. Any active transition is dropped.
func (b *Box) ResetToDefault(d Defaults) {
	if d.Kind == types.SourceGallery {
		size := types.Size{
			Width:  d.Container.Width * GalleryDefaultFraction,
			Height: d.Container.Height * GalleryDefaultFraction,
		}
		b.rect = d.Container.CenteredIn(size)
	} else {
		screen := types.Rect{Width: d.Screen.Width, Height: d.Screen.Height}
		b.rect = screen.CenteredIn(types.Size{Width: CameraDefaultSide, Height: CameraDefaultSide})
	}
	b.state = Idle
	b.logger.Debug("crop box reset", "source", string(d.Kind), "rect", b.rect.String())
}

// Fit places the box over r, keeping r's center, with the minimum size and the
// aspect constraint applied the same way a resize applies them.
func (b *Box) Fit(r types.Rect) {
	w, h := b.constrain(r.Width, r.Height)
	cx, cy := r.Left+r.Width/2, r.Top+r.Height/2
	b.rect = types.Rect{Left: cx - w/2, Top: cy - h/2, Width: w, Height: h}
	b.state = Idle
}

func (b *Box) constrain(w, h float64) (float64, float64) {
	w = math.Max(MinDim, w)
	if b.aspect == nil {
		return w, math.Max(MinDim, h)
	}
	h = b.aspect.HeightFor(w)
	if h < MinDim {
		h = MinDim
		w = b.aspect.WidthFor(MinDim)
	}
	return w, h
}
