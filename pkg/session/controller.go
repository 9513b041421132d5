// Package session implements the crop session controller: it owns the crop
// box and the held image, talks to the camera, gallery and storage
// collaborators, and runs the crop pipeline on confirm.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/cropbox"
	"github.com/menta2k/unified-cropper/pkg/extractor"
	"github.com/menta2k/unified-cropper/pkg/mapper"
	"github.com/menta2k/unified-cropper/pkg/processing"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// DefaultPreviewPosition is the camera used when none is configured.
const DefaultPreviewPosition = "rear"

// DefaultSuggestMaxDim bounds the image sent to the suggester.
const DefaultSuggestMaxDim = 1024

// DefaultSuggestQuality is the JPEG quality of the image sent to the suggester.
const DefaultSuggestQuality = 85

// Controller owns one crop session. Pointer input and SetLayout may be called
// at any time; Start, SetMode, Capture, Pick, Suggest and Confirm run one at a
// time and return types.ErrBusy when another is in flight.
type Controller struct {
	mu sync.Mutex

	id       string
	mode     types.Mode
	kind     types.SourceKind
	image    []byte
	persist  bool
	layout   Layout
	preview  bool
	position string

	box         *cropbox.Box
	pointer     *cropbox.Dispatcher
	interaction *cropbox.Interaction

	busy atomic.Bool

	live           client.LiveSurface
	gallery        client.GalleryPicker
	storage        client.Storage
	suggester      Suggester
	suggestMaxDim  int
	suggestQuality int
	handlers       []ResultHandler

	extractor *extractor.Extractor
	processor *processing.Processor
	base      *slog.Logger
	logger    *slog.Logger
}

// New creates a controller in post-capture camera mode with no image held.
// Call Start to begin a flow.
func New(opts ...Option) *Controller {
	c := &Controller{
		mode:           types.ModePostCapture,
		kind:           types.SourceCamera,
		position:       DefaultPreviewPosition,
		suggestMaxDim:  DefaultSuggestMaxDim,
		suggestQuality: DefaultSuggestQuality,
		base:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = extractor.New()
	}
	c.processor = processing.NewProcessor(c.base)
	c.id = uuid.NewString()
	c.logger = c.base.With("session", c.id)
	c.box = cropbox.New(types.Rect{}, nil, c.base)
	c.box.ResetToDefault(c.defaults())
	c.pointer = cropbox.NewDispatcher()
	c.interaction = cropbox.NewInteraction(c.box, c.pointer, c.base)
	return c
}

func (c *Controller) acquire() error {
	if !c.busy.CompareAndSwap(false, true) {
		return types.ErrBusy
	}
	return nil
}

func (c *Controller) release() { c.busy.Store(false) }

func (c *Controller) log() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// defaults must be called with mu held.
func (c *Controller) defaults() cropbox.Defaults {
	return cropbox.Defaults{Kind: c.kind, Screen: c.layout.Screen, Container: c.layout.Container}
}

// resetBox must be called with mu held.
func (c *Controller) resetBox() {
	c.interaction.Close()
	c.box.ResetToDefault(c.defaults())
}

// Start begins a new flow: it parses the aspect ratio, assigns a fresh session
// id and switches to opts.Mode. An empty mode means pre-capture.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	mode := opts.Mode
	if mode == "" {
		mode = types.ModePreCapture
	}
	if _, ok := types.ParseMode(string(mode)); !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}

	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	var aspect *types.AspectConstraint
	if opts.AspectRatio != "" {
		a, err := types.ParseAspectRatio(opts.AspectRatio)
		switch {
		case err != nil && opts.StrictAspect:
			return err
		case err != nil:
			c.log().Warn("ignoring aspect ratio", "aspect_ratio", opts.AspectRatio, "error", err)
		default:
			aspect = a
		}
	}

	c.mu.Lock()
	c.id = uuid.NewString()
	c.logger = c.base.With("session", c.id)
	c.persist = opts.Persist
	c.box.SetAspect(aspect)
	c.mu.Unlock()

	aspectStr := "free"
	if aspect != nil {
		aspectStr = aspect.String()
	}
	c.log().Debug("session started", "mode", string(mode), "aspect", aspectStr, "persist", opts.Persist)
	return c.setMode(ctx, mode)
}

// SetMode switches the workflow. Any held image is dropped. Gallery mode stops
// the live preview; camera modes start it when a LiveSurface is configured.
// The crop box is reset to the default for the new source.
func (c *Controller) SetMode(ctx context.Context, mode types.Mode) error {
	if _, ok := types.ParseMode(string(mode)); !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	return c.setMode(ctx, mode)
}

func (c *Controller) setMode(ctx context.Context, mode types.Mode) error {
	kind := mode.SourceKind()
	c.mu.Lock()
	prev := c.kind
	c.mode = mode
	c.kind = kind
	c.image = nil
	c.resetBox()
	previewActive := c.preview
	cfg := client.PreviewConfig{
		Width:    int(c.layout.Screen.Width),
		Height:   int(c.layout.Screen.Height),
		Position: c.position,
	}
	c.mu.Unlock()

	c.log().Debug("mode set", "mode", string(mode), "from", string(prev), "to", string(kind))

	if kind == types.SourceGallery {
		if previewActive {
			c.stopPreview(ctx)
		}
		return nil
	}
	if c.live == nil || previewActive {
		return nil
	}
	if err := c.live.Start(ctx, cfg); err != nil {
		c.log().Warn("live preview failed to start", "error", err)
		return asAcquisitionError(types.SourceCamera, "start", err)
	}
	c.mu.Lock()
	c.preview = true
	c.mu.Unlock()
	return nil
}

// SetLayout records the screen and gallery container geometry and resets the
// crop box to the default for the current source.
func (c *Controller) SetLayout(l Layout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layout = l
	c.resetBox()
}

// Capture grabs a still from the live preview and holds it. In post-capture
// mode the preview is stopped afterwards so the still can be cropped.
func (c *Controller) Capture(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	mode, active := c.mode, c.preview
	c.mu.Unlock()
	if mode == types.ModeGallery {
		return &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: fmt.Errorf("%w: gallery mode", types.ErrUnavailable)}
	}

	data, err := c.capture(ctx, active)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.image = data
	c.mu.Unlock()

	if mode == types.ModePostCapture {
		c.stopPreview(ctx)
	}
	c.log().Debug("frame captured", "bytes", len(data))
	return nil
}

func (c *Controller) capture(ctx context.Context, active bool) ([]byte, error) {
	if c.live == nil || !active {
		return nil, &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: fmt.Errorf("%w: live preview not running", types.ErrUnavailable)}
	}
	data, err := c.live.Capture(ctx)
	if err != nil {
		c.log().Warn("capture failed", "error", err)
		return nil, asAcquisitionError(types.SourceCamera, "capture", err)
	}
	if len(data) == 0 {
		return nil, &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: errors.New("no image data captured")}
	}
	return data, nil
}

// Pick asks the gallery for an image and holds it, switching to gallery mode
// once the picker has returned one. A cancel or failure leaves the session
// unchanged; a user cancel is reported as types.ErrCancelled.
func (c *Controller) Pick(ctx context.Context) error {
	if c.gallery == nil {
		return &types.AcquisitionError{Source: types.SourceGallery, Op: "pick", Err: fmt.Errorf("%w: no gallery configured", types.ErrUnavailable)}
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	data, err := c.gallery.Pick(ctx)
	if err != nil {
		acqErr := asAcquisitionError(types.SourceGallery, "pick", err)
		if acqErr.Cancelled() {
			c.log().Debug("gallery pick cancelled")
		} else {
			c.log().Warn("gallery pick failed", "error", err)
		}
		return acqErr
	}
	if len(data) == 0 {
		return &types.AcquisitionError{Source: types.SourceGallery, Op: "pick", Err: types.ErrCancelled}
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != types.ModeGallery {
		if err := c.setMode(ctx, types.ModeGallery); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.image = data
	c.mu.Unlock()
	c.log().Debug("gallery image picked", "bytes", len(data))
	return nil
}

// Confirm runs the crop pipeline. In pre-capture mode a frame is captured
// first; otherwise the held image is cropped. On success the crop box is
// reset, the live preview stopped, and the result passed to every handler.
//
// A *types.PersistenceError is returned together with a valid result when
// saving failed. The result keeps the path the storage reported, if any. Any other error means nothing was emitted and the session is
// left as it was.
func (c *Controller) Confirm(ctx context.Context) (*types.CropResult, error) {
	if err := c.acquire(); err != nil {
		c.log().Warn("confirm rejected", "error", err)
		return nil, err
	}
	defer c.release()

	c.mu.Lock()
	mode, kind, data := c.mode, c.kind, c.image
	active, persist, layout := c.preview, c.persist, c.layout
	crop := c.box.Rect()
	c.mu.Unlock()

	if mode == types.ModePreCapture {
		captured, err := c.capture(ctx, active)
		if err != nil {
			return nil, err
		}
		data = captured
	}
	if len(data) == 0 {
		c.log().Warn("confirm without image", "mode", string(mode))
		return nil, types.ErrNoImage
	}

	img, err := c.processor.Decode(ctx, data)
	if err != nil {
		c.log().Warn("decode failed", "error", err)
		return nil, err
	}
	if mode == types.ModePreCapture {
		c.mu.Lock()
		c.image = data
		c.mu.Unlock()
	}

	surface := surfaceFor(kind, img.Bounds(), layout)
	src, err := mapper.MapToSource(crop, surface)
	if err != nil {
		c.log().Warn("crop mapping failed", "error", err, "crop", crop.String())
		return nil, err
	}
	out, err := c.extractor.Crop(img, src)
	if err != nil {
		c.log().Warn("crop extraction failed", "error", err, "region", src.String())
		return nil, err
	}

	result := &types.CropResult{
		Name:       out.Name,
		SourceKind: kind,
		Type:       out.Type,
		Bytes:      out.Bytes,
		Region:     src,
		CreatedAt:  out.At,
	}

	var persistErr error
	if persist && c.storage != nil {
		path, err := c.storage.Save(ctx, out.Bytes, out.Name)
		if err != nil {
			c.log().Warn("persisting crop failed", "name", out.Name, "path", path, "error", err)
			persistErr = &types.PersistenceError{Name: out.Name, Err: err}
		}
		// A storage may report an error after the file itself was written.
		result.Path = path
	}

	c.mu.Lock()
	c.resetBox()
	c.mu.Unlock()
	if active {
		c.stopPreview(ctx)
	}

	c.log().Debug("crop completed", "name", result.Name, "source", string(kind), "region", src.String(), "bytes", len(result.Bytes))
	for _, h := range c.handlers {
		h(*result)
	}
	return result, persistErr
}

// Suggest asks the configured Suggester where the subject of the held image
// is and places the crop box over it, keeping the minimum size and aspect.
func (c *Controller) Suggest(ctx context.Context) (*types.SubjectResult, error) {
	if c.suggester == nil {
		return nil, fmt.Errorf("%w: no suggester configured", types.ErrUnavailable)
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	c.mu.Lock()
	kind, data, layout := c.kind, c.image, c.layout
	c.mu.Unlock()
	if len(data) == 0 {
		return nil, types.ErrNoImage
	}

	img, err := c.processor.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	b64, err := c.processor.PrepareImageForModel(img, "jpg", c.suggestMaxDim, c.suggestQuality)
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}
	res, err := c.suggester.DetectSubject(ctx, b64)
	if err != nil {
		c.log().Warn("subject suggestion failed", "error", err)
		return res, err
	}

	surface := surfaceFor(kind, img.Bounds(), layout)
	screen, err := mapper.MapToScreen(mapper.FromNormalized(res.Primary.Box, surface.Natural), surface)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.interaction.Close()
	c.box.Fit(screen)
	rect := c.box.Rect()
	c.mu.Unlock()

	c.log().Debug("crop box placed on subject", "label", res.Primary.Label, "confidence", res.Primary.Confidence, "rect", rect.String())
	return res, nil
}

// End finishes the flow: the preview is stopped, the image dropped and the
// crop box reset. The controller may be started again.
func (c *Controller) End(ctx context.Context) {
	c.mu.Lock()
	c.image = nil
	c.resetBox()
	active := c.preview
	c.mu.Unlock()
	if active {
		c.stopPreview(ctx)
	}
	c.log().Debug("session ended")
}

func (c *Controller) stopPreview(ctx context.Context) {
	if c.live != nil {
		if err := c.live.Stop(ctx); err != nil {
			c.log().Warn("stopping live preview failed", "error", err)
		}
	}
	c.mu.Lock()
	c.preview = false
	c.mu.Unlock()
}

// PointerDown starts a drag on the box or a resize on its handle.
func (c *Controller) PointerDown(p types.Point, target cropbox.Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interaction.PointerDown(p, target)
}

// Dispatch delivers a pointer move, up or cancel to the active transition, if any.
func (c *Controller) Dispatch(ev cropbox.PointerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pointer.Dispatch(ev)
}

// Listeners returns how many pointer handlers are attached.
func (c *Controller) Listeners() int { return c.pointer.Listeners() }

// ID returns the current session id.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Mode returns the current mode.
func (c *Controller) Mode() types.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SourceKind returns where the current image comes from.
func (c *Controller) SourceKind() types.SourceKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// CropRect returns the crop box in screen coordinates.
func (c *Controller) CropRect() types.Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.box.Rect()
}

// BoxState returns the crop box interaction state.
func (c *Controller) BoxState() cropbox.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.box.State()
}

// Aspect returns the active aspect constraint, or nil.
func (c *Controller) Aspect() *types.AspectConstraint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.box.Aspect()
}

// HasImage reports whether an image is held for cropping.
func (c *Controller) HasImage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.image) > 0
}

// Image returns the held image bytes.
func (c *Controller) Image() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// PreviewActive reports whether the live preview is running.
func (c *Controller) PreviewActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// Surface returns how an image of the given bounds is shown for the current source.
func (c *Controller) Surface(bounds image.Rectangle) mapper.Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return surfaceFor(c.kind, bounds, c.layout)
}

// surfaceFor returns the display surface: camera frames fill the screen,
// gallery images are letterboxed in the container.
func surfaceFor(kind types.SourceKind, bounds image.Rectangle, l Layout) mapper.Surface {
	natural := types.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}
	if kind == types.SourceGallery {
		return mapper.Surface{Fit: mapper.Contained, Natural: natural, View: l.Container}
	}
	return mapper.Surface{
		Fit:     mapper.FullBleed,
		Natural: natural,
		View:    types.Rect{Width: l.Screen.Width, Height: l.Screen.Height},
	}
}

func asAcquisitionError(source types.SourceKind, op string, err error) *types.AcquisitionError {
	var acqErr *types.AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr
	}
	return &types.AcquisitionError{Source: source, Op: op, Err: err}
}
