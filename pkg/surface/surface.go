// Package surface provides image sources for a crop session: live surfaces
// that can capture a still frame, and gallery pickers.
package surface

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"sync"

	"github.com/vova616/screenshot"

	"github.com/menta2k/unified-cropper/internal/utils"
	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// live tracks the started/stopped lifecycle shared by every LiveSurface here.
type live struct {
	mu      sync.Mutex
	started bool
	cfg     client.PreviewConfig
}

func (l *live) start(cfg client.PreviewConfig) {
	l.mu.Lock()
	l.started = true
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *live) stop() {
	l.mu.Lock()
	l.started = false
	l.mu.Unlock()
}

// Active reports whether the preview is running.
func (l *live) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// File is a LiveSurface whose "frames" are read from an image file, for
// headless use and tests.
type File struct {
	live
	path   string
	logger *slog.Logger
}

var _ client.LiveSurface = (*File)(nil)

// NewFile returns a surface that captures the contents of path.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger}
}

func (f *File) Start(ctx context.Context, cfg client.PreviewConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !utils.FileExists(f.path) {
		return &types.AcquisitionError{Source: types.SourceCamera, Op: "start", Err: fmt.Errorf("%w: %s not found", types.ErrUnavailable, f.path)}
	}
	f.start(cfg)
	f.logger.Debug("file surface started", "path", f.path, "width", cfg.Width, "height", cfg.Height)
	return nil
}

func (f *File) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.Active() {
		return nil, &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: types.ErrUnavailable}
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: err}
	}
	return data, nil
}

func (f *File) Stop(ctx context.Context) error {
	f.stop()
	return nil
}

// Screen is a LiveSurface backed by the desktop: Capture grabs the primary
// screen and encodes it as PNG.
type Screen struct {
	live
	grab   func() (*image.RGBA, error)
	logger *slog.Logger
}

var _ client.LiveSurface = (*Screen)(nil)

// NewScreen returns a surface capturing the primary screen.
func NewScreen(logger *slog.Logger) *Screen {
	if logger == nil {
		logger = slog.Default()
	}
	return &Screen{grab: screenshot.CaptureScreen, logger: logger}
}

// ScreenSize returns the primary screen dimensions.
func ScreenSize() (types.Size, error) {
	r, err := screenshot.ScreenRect()
	if err != nil {
		return types.Size{}, &types.AcquisitionError{Source: types.SourceCamera, Op: "screen", Err: err}
	}
	return types.Size{Width: float64(r.Dx()), Height: float64(r.Dy())}, nil
}

func (s *Screen) Start(ctx context.Context, cfg client.PreviewConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.start(cfg)
	s.logger.Debug("screen surface started")
	return nil
}

func (s *Screen) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Active() {
		return nil, &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: types.ErrUnavailable}
	}
	img, err := s.grab()
	if err != nil {
		return nil, &types.AcquisitionError{Source: types.SourceCamera, Op: "capture", Err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screen capture: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Screen) Stop(ctx context.Context) error {
	s.stop()
	return nil
}

// FilePicker is a GalleryPicker that "picks" the file named by Choose.
// An empty choice is a user cancel.
type FilePicker struct {
	Choose func(ctx context.Context) (string, error)
}

var _ client.GalleryPicker = (*FilePicker)(nil)

// NewFilePicker returns a picker that always picks path.
func NewFilePicker(path string) *FilePicker {
	return &FilePicker{Choose: func(context.Context) (string, error) { return path, nil }}
}

func (p *FilePicker) Pick(ctx context.Context) ([]byte, error) {
	path, err := p.Choose(ctx)
	if err != nil {
		return nil, &types.AcquisitionError{Source: types.SourceGallery, Op: "pick", Err: err}
	}
	if path == "" {
		return nil, &types.AcquisitionError{Source: types.SourceGallery, Op: "pick", Err: types.ErrCancelled}
	}
	if !utils.IsImageFile(path) {
		return nil, &types.AcquisitionError{Source: types.SourceGallery, Op: "pick", Err: fmt.Errorf("%s is not an image", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.AcquisitionError{Source: types.SourceGallery, Op: "pick", Err: err}
	}
	return data, nil
}
