package session

import (
	"context"
	"log/slog"

	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/extractor"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// Options are accepted by Controller.Start.
type Options struct {
	Mode types.Mode `json:"mode" yaml:"mode"`
	// AspectRatio is an optional "W:H" constraint, e.g. "16:9".
	AspectRatio string `json:"aspectRatio,omitempty" yaml:"aspect_ratio"`
	// Persist saves every crop through the configured Storage.
	Persist bool `json:"persist,omitempty" yaml:"persist"`
	// StrictAspect rejects a malformed AspectRatio instead of ignoring it.
	StrictAspect bool `json:"strictAspect,omitempty" yaml:"strict_aspect"`
}

// Layout is the on-screen geometry the crop box lives in.
type Layout struct {
	// Screen is the full viewing surface for camera sources.
	Screen types.Size
	// Container is where gallery images are shown, in absolute screen coordinates.
	Container types.Rect
}

// Suggester locates the main subject of an image sent as base64.
type Suggester interface {
	DetectSubject(ctx context.Context, imageB64 string) (*types.SubjectResult, error)
}

// ResultHandler receives every emitted crop.
type ResultHandler func(types.CropResult)

// Option configures a Controller.
type Option func(*Controller)

// WithLiveSurface sets the camera preview collaborator.
func WithLiveSurface(s client.LiveSurface) Option {
	return func(c *Controller) { c.live = s }
}

// WithGallery sets the gallery picker collaborator.
func WithGallery(g client.GalleryPicker) Option {
	return func(c *Controller) { c.gallery = g }
}

// WithStorage sets where crops are persisted when Options.Persist is set.
func WithStorage(s client.Storage) Option {
	return func(c *Controller) { c.storage = s }
}

// WithSuggester enables Suggest. Images are sent as JPEG at quality, downscaled
// so the longest side is at most maxDim (0 keeps the original size).
func WithSuggester(s Suggester, maxDim, quality int) Option {
	return func(c *Controller) {
		c.suggester = s
		c.suggestMaxDim = maxDim
		if quality > 0 {
			c.suggestQuality = quality
		}
	}
}

// WithResultHandler registers a handler called after every successful crop.
func WithResultHandler(h ResultHandler) Option {
	return func(c *Controller) { c.handlers = append(c.handlers, h) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.base = l
		}
	}
}

// WithExtractor replaces the crop extractor, e.g. to change the name prefix or clock.
func WithExtractor(e *extractor.Extractor) Option {
	return func(c *Controller) { c.extractor = e }
}

// WithLayout sets the initial layout.
func WithLayout(l Layout) Option {
	return func(c *Controller) { c.layout = l }
}

// WithPreviewPosition chooses the camera ("rear" or "front").
func WithPreviewPosition(position string) Option {
	return func(c *Controller) { c.position = position }
}
