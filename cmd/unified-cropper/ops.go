package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/menta2k/unified-cropper/pkg/cropbox"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// step is one scripted gesture: a pointer-down, a single move by (DX, DY), and a release.
type step struct {
	Target cropbox.Target
	DX, DY float64
	Cancel bool
}

// parseOps reads gestures separated by spaces or semicolons:
//
//	move:dx,dy     drag the box body
//	resize:dx,dy   drag the resize handle
//	cancel:dx,dy   drag the box body, then cancel instead of releasing
func parseOps(s string) ([]step, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ';' })
	steps := make([]step, 0, len(fields))
	for _, f := range fields {
		verb, args, ok := strings.Cut(f, ":")
		if !ok {
			return nil, fmt.Errorf("op %q: want verb:dx,dy", f)
		}
		xs, ys, ok := strings.Cut(args, ",")
		if !ok {
			return nil, fmt.Errorf("op %q: want verb:dx,dy", f)
		}
		dx, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", f, err)
		}
		dy, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", f, err)
		}

		st := step{DX: dx, DY: dy}
		switch strings.ToLower(verb) {
		case "move":
			st.Target = cropbox.TargetBox
		case "resize":
			st.Target = cropbox.TargetHandle
		case "cancel":
			st.Target = cropbox.TargetBox
			st.Cancel = true
		default:
			return nil, fmt.Errorf("op %q: unknown verb %q", f, verb)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

// pointerTarget is the subset of the session used to replay gestures.
type pointerTarget interface {
	CropRect() types.Rect
	PointerDown(p types.Point, target cropbox.Target) bool
	Dispatch(ev cropbox.PointerEvent)
}

// replay performs st: body gestures start at the box center, handle gestures
// at its bottom-right corner.
func replay(t pointerTarget, st step) {
	r := t.CropRect()
	start := types.Point{X: r.Left + r.Width/2, Y: r.Top + r.Height/2}
	if st.Target == cropbox.TargetHandle {
		start = types.Point{X: r.Right(), Y: r.Bottom()}
	}
	if !t.PointerDown(start, st.Target) {
		return
	}
	t.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerMove, Pos: types.Point{X: start.X + st.DX, Y: start.Y + st.DY}})
	end := cropbox.PointerUp
	if st.Cancel {
		end = cropbox.PointerCancel
	}
	t.Dispatch(cropbox.PointerEvent{Kind: end})
}
