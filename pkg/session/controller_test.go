package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/cropbox"
	"github.com/menta2k/unified-cropper/pkg/extractor"
	"github.com/menta2k/unified-cropper/pkg/types"
)

const tol = 1e-6

// createTestImage returns a PNG of the given size.
func createTestImage(t testing.TB, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeLive struct {
	mu       sync.Mutex
	frame    []byte
	startErr error
	capErr   error
	starts   int
	stops    int
	lastCfg  client.PreviewConfig
	// block, when set, makes Capture wait until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeLive) Start(_ context.Context, cfg client.PreviewConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.lastCfg = cfg
	return nil
}

func (f *fakeLive) Capture(ctx context.Context) ([]byte, error) {
	if f.block != nil {
		close(f.entered)
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.frame, f.capErr
}

func (f *fakeLive) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

type fakeGallery struct {
	data []byte
	err  error
}

func (f *fakeGallery) Pick(context.Context) ([]byte, error) { return f.data, f.err }

type fakeStorage struct {
	err error
	// written reports the path alongside err, as when only indexing failed.
	written bool
	saved   map[string][]byte
}

func (f *fakeStorage) Save(_ context.Context, data []byte, name string) (string, error) {
	if f.err != nil && !f.written {
		return "", f.err
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[name] = data
	return "/crops/" + name, f.err
}

type fakeSuggester struct {
	result *types.SubjectResult
	err    error
}

func (f *fakeSuggester) DetectSubject(context.Context, string) (*types.SubjectResult, error) {
	return f.result, f.err
}

var (
	phone     = Layout{Screen: types.Size{Width: 1080, Height: 1920}, Container: types.NewRect(0, 0, 500, 500)}
	fixedTime = time.UnixMilli(1718000000000)
)

func newController(opts ...Option) *Controller {
	base := []Option{
		WithLayout(phone),
		WithExtractor(extractor.NewWithConfig(extractor.Config{Now: func() time.Time { return fixedTime }})),
	}
	return New(append(base, opts...)...)
}

func decodeResult(t *testing.T, r *types.CropResult) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(r.Bytes))
	require.NoError(t, err)
	return img
}

func TestStartPreCaptureStartsPreview(t *testing.T) {
	live := &fakeLive{}
	c := newController(WithLiveSurface(live))
	firstID := c.ID()

	require.NoError(t, c.Start(context.Background(), Options{Mode: types.ModePreCapture}))
	assert.NotEqual(t, firstID, c.ID(), "start assigns a new session id")
	assert.Equal(t, 1, live.starts)
	assert.Equal(t, client.PreviewConfig{Width: 1080, Height: 1920, Position: "rear"}, live.lastCfg)
	assert.True(t, c.PreviewActive())
	assert.Equal(t, types.SourceCamera, c.SourceKind())
	assert.True(t, c.CropRect().ApproxEqual(types.NewRect(440, 860, 200, 200), tol))
}

func TestStartAspectParsing(t *testing.T) {
	ctx := context.Background()

	c := newController()
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture, AspectRatio: "16:9"}))
	require.NotNil(t, c.Aspect())
	assert.InDelta(t, 9.0/16.0, c.Aspect().Ratio(), tol)

	for _, bad := range []string{"abc", "1:2:3", "0:1"} {
		c := newController()
		require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture, AspectRatio: bad}), bad)
		assert.Nil(t, c.Aspect(), "malformed %q is ignored", bad)

		err := newController().Start(ctx, Options{Mode: types.ModePostCapture, AspectRatio: bad, StrictAspect: true})
		assert.ErrorIs(t, err, types.ErrInvalidAspectRatio, bad)
	}

	assert.Error(t, newController().Start(ctx, Options{Mode: "sideways"}))
}

func TestStartPreviewFailure(t *testing.T) {
	live := &fakeLive{startErr: errors.New("camera in use")}
	c := newController(WithLiveSurface(live))

	err := c.Start(context.Background(), Options{Mode: types.ModePreCapture})
	var acqErr *types.AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, types.SourceCamera, acqErr.Source)
	assert.False(t, c.PreviewActive())
	assert.Equal(t, types.ModePreCapture, c.Mode())
}

func TestConfirmPreCaptureFullBleed(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 1080, 1920)}
	var emitted []types.CropResult
	c := newController(WithLiveSurface(live), WithResultHandler(func(r types.CropResult) { emitted = append(emitted, r) }))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture}))

	// Move the box to (100,100).
	require.True(t, c.PointerDown(types.Point{X: 500, Y: 900}, cropbox.TargetBox))
	c.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerMove, Pos: types.Point{X: 160, Y: 140}})
	c.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerUp})
	require.True(t, c.CropRect().ApproxEqual(types.NewRect(100, 100, 200, 200), tol))
	assert.Zero(t, c.Listeners())

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	assert.True(t, res.Region.ApproxEqual(types.NewRect(100, 100, 200, 200), tol), "1:1 full-bleed maps unchanged, got %v", res.Region)
	assert.Equal(t, "IMG_1718000000000.png", res.Name)
	assert.Equal(t, ".png", res.Type)
	assert.Equal(t, types.SourceCamera, res.SourceKind)
	assert.Empty(t, res.Path)

	img := decodeResult(t, res)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())

	assert.Equal(t, 1, live.stops, "preview stopped after crop")
	assert.False(t, c.PreviewActive())
	assert.True(t, c.CropRect().ApproxEqual(types.NewRect(440, 860, 200, 200), tol), "box reset after crop")
	require.Len(t, emitted, 1)
	assert.Equal(t, res.Name, emitted[0].Name)
}

func TestConfirmFullBleedScalesPerAxis(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 540, 3840)}
	c := newController(WithLiveSurface(live))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture}))

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	// Default box (440,860,200,200) at x0.5 horizontally and x2 vertically.
	assert.True(t, res.Region.ApproxEqual(types.NewRect(220, 1720, 100, 400), tol), "got %v", res.Region)
}

func TestConfirmPostCaptureNeedsImage(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 1080, 1920)}
	c := newController(WithLiveSurface(live))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture}))

	_, err := c.Confirm(ctx)
	assert.ErrorIs(t, err, types.ErrNoImage)
	assert.Equal(t, types.ModePostCapture, c.Mode(), "mode unchanged after failure")
	assert.True(t, c.PreviewActive())

	require.NoError(t, c.Capture(ctx))
	assert.True(t, c.HasImage())
	assert.False(t, c.PreviewActive(), "post-capture stops the preview after capturing")
	assert.Equal(t, 1, live.stops)

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SourceCamera, res.SourceKind)
	assert.Equal(t, 1, live.stops, "no second stop when preview already stopped")
}

func TestCaptureRequiresPreview(t *testing.T) {
	ctx := context.Background()
	c := newController()
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture}))

	err := c.Capture(ctx)
	assert.ErrorIs(t, err, types.ErrUnavailable)
	assert.False(t, c.HasImage())
}

func TestSwitchToGalleryStopsPreviewAndClearsImage(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 100, 100)}
	c := newController(WithLiveSurface(live))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture}))

	// Hold a frame while the preview is still running.
	c.mu.Lock()
	c.image = live.frame
	c.mu.Unlock()

	require.NoError(t, c.SetMode(ctx, types.ModeGallery))
	assert.False(t, c.PreviewActive())
	assert.Equal(t, 1, live.stops)
	assert.False(t, c.HasImage())
	assert.Equal(t, types.SourceGallery, c.SourceKind())
	assert.True(t, c.CropRect().ApproxEqual(types.NewRect(125, 125, 250, 250), tol), "gallery default is half the container")

	require.NoError(t, c.SetMode(ctx, types.ModePostCapture))
	assert.Equal(t, 2, live.starts, "camera modes restart the preview")
	assert.True(t, c.CropRect().ApproxEqual(types.NewRect(440, 860, 200, 200), tol))
}

func TestGalleryLetterboxedCrop(t *testing.T) {
	ctx := context.Background()
	gallery := &fakeGallery{data: createTestImage(t, 1000, 2000)}
	c := newController(WithGallery(gallery))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModeGallery}))
	require.NoError(t, c.Pick(ctx))

	// Default 250x250 at (125,125): drag up to the top, then stretch to 250x500.
	require.True(t, c.PointerDown(types.Point{X: 200, Y: 200}, cropbox.TargetBox))
	c.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerMove, Pos: types.Point{X: 200, Y: 75}})
	c.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerUp})

	require.True(t, c.PointerDown(types.Point{X: 375, Y: 250}, cropbox.TargetHandle))
	assert.Equal(t, cropbox.Resizing, c.BoxState())
	c.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerMove, Pos: types.Point{X: 375, Y: 500}})
	c.Dispatch(cropbox.PointerEvent{Kind: cropbox.PointerUp})
	require.True(t, c.CropRect().ApproxEqual(types.NewRect(125, 0, 250, 500), tol), "got %v", c.CropRect())
	assert.Zero(t, c.Listeners())

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SourceGallery, res.SourceKind)
	assert.True(t, res.Region.ApproxEqual(types.NewRect(0, 0, 1000, 2000), tol), "got %v", res.Region)
	img := decodeResult(t, res)
	assert.Equal(t, 1000, img.Bounds().Dx())
	assert.Equal(t, 2000, img.Bounds().Dy())
}

func TestPickSwitchesToGallery(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{}
	c := newController(WithLiveSurface(live), WithGallery(&fakeGallery{data: createTestImage(t, 10, 10)}))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture}))
	require.True(t, c.PreviewActive())

	require.NoError(t, c.Pick(ctx))
	assert.Equal(t, types.ModeGallery, c.Mode())
	assert.False(t, c.PreviewActive())
	assert.True(t, c.HasImage())
}

func TestPickCancelled(t *testing.T) {
	ctx := context.Background()
	c := newController(WithGallery(&fakeGallery{err: types.ErrCancelled}))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModeGallery}))

	err := c.Pick(ctx)
	var acqErr *types.AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.True(t, acqErr.Cancelled())
	assert.Equal(t, types.SourceGallery, acqErr.Source)
	assert.False(t, c.HasImage())
	assert.Equal(t, types.ModeGallery, c.Mode())

	c = newController(WithGallery(&fakeGallery{err: errors.New("permission denied")}))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModeGallery}))
	err = c.Pick(ctx)
	require.True(t, errors.As(err, &acqErr))
	assert.False(t, acqErr.Cancelled())

	assert.ErrorIs(t, newController().Pick(ctx), types.ErrUnavailable)
}

func TestConfirmDecodeFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	var emitted int
	c := newController(
		WithGallery(&fakeGallery{data: []byte("not an image")}),
		WithResultHandler(func(types.CropResult) { emitted++ }),
	)
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModeGallery}))
	require.NoError(t, c.Pick(ctx))
	before := c.CropRect()

	_, err := c.Confirm(ctx)
	var decErr *types.DecodeError
	require.True(t, errors.As(err, &decErr), "got %v", err)
	assert.Zero(t, emitted)
	assert.Equal(t, types.ModeGallery, c.Mode())
	assert.True(t, c.HasImage())
	assert.Equal(t, before, c.CropRect())
}

func TestConfirmAbandonedDecode(t *testing.T) {
	c := newController(WithGallery(&fakeGallery{data: createTestImage(t, 50, 50)}))
	require.NoError(t, c.Start(context.Background(), Options{Mode: types.ModeGallery}))
	require.NoError(t, c.Pick(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Confirm(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, c.HasImage())

	res, err := c.Confirm(context.Background())
	require.NoError(t, err, "session usable after an abandoned decode")
	assert.NotNil(t, res)
}

func TestConfirmPersistence(t *testing.T) {
	ctx := context.Background()
	store := &fakeStorage{}
	live := &fakeLive{frame: createTestImage(t, 1080, 1920)}
	c := newController(WithLiveSurface(live), WithStorage(store))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture, Persist: true}))

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/crops/IMG_1718000000000.png", res.Path)
	assert.Equal(t, res.Bytes, store.saved[res.Name])

	// Not persisted unless requested.
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture}))
	res, err = c.Confirm(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Path)
}

func TestConfirmPersistenceFailureStillEmits(t *testing.T) {
	ctx := context.Background()
	var emitted []types.CropResult
	live := &fakeLive{frame: createTestImage(t, 1080, 1920)}
	c := newController(
		WithLiveSurface(live),
		WithStorage(&fakeStorage{err: errors.New("disk full")}),
		WithResultHandler(func(r types.CropResult) { emitted = append(emitted, r) }),
	)
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture, Persist: true}))

	res, err := c.Confirm(ctx)
	var perr *types.PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	require.NotNil(t, res)
	assert.Empty(t, res.Path)
	assert.NotEmpty(t, res.Bytes)
	assert.Len(t, emitted, 1)
}

func TestConfirmKeepsPathWhenIndexingFails(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 1080, 1920)}
	store := &fakeStorage{err: errors.New("failed to record crop"), written: true}
	c := newController(WithLiveSurface(live), WithStorage(store))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture, Persist: true}))

	res, err := c.Confirm(ctx)
	var perr *types.PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	require.NotNil(t, res)
	assert.Equal(t, "/crops/IMG_1718000000000.png", res.Path)
	assert.Equal(t, res.Bytes, store.saved[res.Name])
}

func TestPickCancelKeepsCapturedFrame(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 1080, 1920)}
	gallery := &fakeGallery{err: types.ErrCancelled}
	c := newController(WithLiveSurface(live), WithGallery(gallery))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture}))
	require.NoError(t, c.Capture(ctx))
	require.True(t, c.HasImage())
	frame := c.Image()
	rect := c.CropRect()

	err := c.Pick(ctx)
	var acqErr *types.AcquisitionError
	require.True(t, errors.As(err, &acqErr), "got %v", err)
	assert.True(t, acqErr.Cancelled())
	assert.Equal(t, types.ModePostCapture, c.Mode())
	assert.Equal(t, types.SourceCamera, c.SourceKind())
	assert.Equal(t, frame, c.Image())
	assert.Equal(t, rect, c.CropRect())

	// A failing picker leaves an active preview running.
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture}))
	require.True(t, c.PreviewActive())
	gallery.err = errors.New("permission denied")
	require.Error(t, c.Pick(ctx))
	assert.Equal(t, types.ModePreCapture, c.Mode())
	assert.True(t, c.PreviewActive())

	res, err := c.Confirm(ctx)
	require.NoError(t, err, "session usable after a failed pick")
	assert.Equal(t, types.SourceCamera, res.SourceKind)
}

func TestConfirmPreCaptureDecodeFailureKeepsImage(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: []byte("corrupt frame")}
	c := newController(WithLiveSurface(live))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePreCapture}))
	assert.False(t, c.HasImage())

	_, err := c.Confirm(ctx)
	var decErr *types.DecodeError
	require.True(t, errors.As(err, &decErr), "got %v", err)
	assert.False(t, c.HasImage(), "an undecodable frame is not held")
	assert.Nil(t, c.Image())
}

func TestConfirmIsNotReentrant(t *testing.T) {
	live := &fakeLive{
		frame:   createTestImage(t, 1080, 1920),
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	c := newController(WithLiveSurface(live))
	require.NoError(t, c.Start(context.Background(), Options{Mode: types.ModePreCapture}))

	done := make(chan error, 1)
	go func() {
		_, err := c.Confirm(context.Background())
		done <- err
	}()
	<-live.entered

	_, err := c.Confirm(context.Background())
	assert.ErrorIs(t, err, types.ErrBusy)
	assert.ErrorIs(t, c.SetMode(context.Background(), types.ModeGallery), types.ErrBusy)

	close(live.block)
	require.NoError(t, <-done)

	live.block = nil
	_, err = c.Confirm(context.Background())
	assert.NotErrorIs(t, err, types.ErrBusy, "released after completion")
}

func TestSuggestPlacesBoxOnSubject(t *testing.T) {
	ctx := context.Background()
	sug := &fakeSuggester{result: &types.SubjectResult{Primary: types.Primary{
		Label: "dog", Confidence: 0.9, Box: types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
	}}}
	c := newController(WithGallery(&fakeGallery{data: createTestImage(t, 1000, 2000)}), WithSuggester(sug, 256, 80))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModeGallery}))

	_, err := c.Suggest(ctx)
	assert.ErrorIs(t, err, types.ErrNoImage)

	require.NoError(t, c.Pick(ctx))
	res, err := c.Suggest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dog", res.Primary.Label)
	// Displayed image is (125,0,250,500); the middle half of it.
	assert.True(t, c.CropRect().ApproxEqual(types.NewRect(187.5, 125, 125, 250), tol), "got %v", c.CropRect())

	out, err := c.Confirm(ctx)
	require.NoError(t, err)
	assert.True(t, out.Region.ApproxEqual(types.NewRect(250, 500, 500, 1000), tol), "got %v", out.Region)
}

func TestSuggestRespectsAspect(t *testing.T) {
	ctx := context.Background()
	sug := &fakeSuggester{result: &types.SubjectResult{Primary: types.Primary{
		Label: "cup", Confidence: 0.9, Box: types.Box{X: 0.4, Y: 0.4, W: 0.05, H: 0.05},
	}}}
	c := newController(WithGallery(&fakeGallery{data: createTestImage(t, 500, 500)}), WithSuggester(sug, 0, 0))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModeGallery, AspectRatio: "2:1"}))
	require.NoError(t, c.Pick(ctx))

	_, err := c.Suggest(ctx)
	require.NoError(t, err)
	r := c.CropRect()
	assert.InDelta(t, 100, r.Width, tol, "minimum height forces width up")
	assert.InDelta(t, 50, r.Height, tol)

	sug.result, sug.err = nil, errors.New("model offline")
	_, err = c.Suggest(ctx)
	assert.Error(t, err)
	assert.Equal(t, r, c.CropRect(), "failed suggestion leaves the box alone")

	_, err = newController().Suggest(ctx)
	assert.ErrorIs(t, err, types.ErrUnavailable)
}

func TestEndResetsSession(t *testing.T) {
	ctx := context.Background()
	live := &fakeLive{frame: createTestImage(t, 10, 10)}
	c := newController(WithLiveSurface(live))
	require.NoError(t, c.Start(ctx, Options{Mode: types.ModePostCapture}))
	require.NoError(t, c.Capture(ctx))
	require.NoError(t, c.SetMode(ctx, types.ModePreCapture))

	require.True(t, c.PointerDown(types.Point{X: 1, Y: 1}, cropbox.TargetBox))
	require.Equal(t, 1, c.Listeners())

	c.End(ctx)
	assert.Zero(t, c.Listeners(), "end releases pointer handlers")
	assert.False(t, c.PreviewActive())
	assert.False(t, c.HasImage())
	assert.Equal(t, cropbox.Idle, c.BoxState())
}

func TestSetLayoutResetsBox(t *testing.T) {
	c := newController()
	c.SetLayout(Layout{Screen: types.Size{Width: 400, Height: 800}, Container: types.NewRect(0, 100, 500, 600)})
	assert.True(t, c.CropRect().ApproxEqual(types.NewRect(100, 300, 200, 200), tol))
}
