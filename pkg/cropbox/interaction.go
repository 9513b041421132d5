package cropbox

import (
	"log/slog"
	"sync"

	"github.com/menta2k/unified-cropper/pkg/types"
)

// EventKind is the kind of a pointer event delivered while a transition is active.
type EventKind int

const (
	PointerMove EventKind = iota
	PointerUp
	PointerCancel
)

// PointerEvent is a global pointer event in screen coordinates.
type PointerEvent struct {
	Kind EventKind
	Pos  types.Point
}

// Handler receives pointer events.
type Handler func(PointerEvent)

// PointerSource delivers global pointer events. Subscribe returns the function
// that detaches the handler; calling it more than once is harmless.
type PointerSource interface {
	Subscribe(h Handler) (unsubscribe func())
}

type subscription struct {
	id int
	h  Handler
}

// Dispatcher is an in-process PointerSource.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers []subscription
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Subscribe attaches h until the returned function is called.
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers = append(d.handlers, subscription{id: id, h: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.handlers {
				if s.id == id {
					d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispatch delivers ev to every handler attached when the call started.
// Handlers may unsubscribe themselves while being called.
func (d *Dispatcher) Dispatch(ev PointerEvent) {
	d.mu.Lock()
	snapshot := make([]subscription, len(d.handlers))
	copy(snapshot, d.handlers)
	d.mu.Unlock()
	for _, s := range snapshot {
		s.h(ev)
	}
}

// Listeners returns the number of attached handlers.
func (d *Dispatcher) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Interaction connects a Box to a PointerSource. Move/up/cancel handlers are
// attached only while a drag or resize is active and detached on every exit path.
type Interaction struct {
	box     *Box
	src     PointerSource
	release func()
	logger  *slog.Logger
}

// NewInteraction binds box to src.
func NewInteraction(box *Box, src PointerSource, logger *slog.Logger) *Interaction {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interaction{box: box, src: src, logger: logger}
}

// Box returns the bound crop box.
func (i *Interaction) Box() *Box { return i.box }

// Active reports whether handlers are currently attached.
func (i *Interaction) Active() bool { return i.release != nil }

// PointerDown starts a resize when target is the handle and a drag otherwise.
// It returns false when a transition is already running.
func (i *Interaction) PointerDown(p types.Point, target Target) bool {
	if i.release != nil {
		return false
	}
	var began bool
	if target == TargetHandle {
		began = i.box.BeginResize(p)
	} else {
		began = i.box.BeginDrag(p, target)
	}
	if !began {
		return false
	}
	i.release = i.src.Subscribe(i.handle)
	return true
}

func (i *Interaction) handle(ev PointerEvent) {
	switch ev.Kind {
	case PointerMove:
		switch i.box.State() {
		case Dragging:
			i.box.UpdateDrag(ev.Pos)
		case Resizing:
			i.box.UpdateResize(ev.Pos)
		}
	case PointerUp, PointerCancel:
		i.finish()
	}
}

// Close ends any active transition and detaches its handlers.
func (i *Interaction) Close() { i.finish() }

func (i *Interaction) finish() {
	i.box.End()
	if i.release != nil {
		i.release()
		i.release = nil
	}
}
