// Package unifiedcropper provides a capture-and-crop session: a live camera
// preview or a gallery image, a draggable and resizable crop box on top of it,
// and on confirmation the selected region cut out of the source image.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		unifiedcropper "github.com/menta2k/unified-cropper"
//		"github.com/menta2k/unified-cropper/pkg/session"
//		"github.com/menta2k/unified-cropper/pkg/surface"
//		"github.com/menta2k/unified-cropper/pkg/types"
//	)
//
//	func main() {
//		ctx := context.Background()
//		c := unifiedcropper.New(session.WithGallery(surface.NewFilePicker("photo.jpg")))
//		defer c.Close()
//
//		if err := c.Start(ctx, session.Options{Mode: types.ModeGallery, AspectRatio: "1:1"}); err != nil {
//			log.Fatal(err)
//		}
//		if err := c.Pick(ctx); err != nil {
//			log.Fatal(err)
//		}
//		res, err := c.Confirm(ctx)
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("cropped %s (%d bytes)", res.Name, len(res.Bytes))
//	}
//
// The package consists of these main components:
//
// 1. Crop box (pkg/cropbox): drag and resize state machine with aspect locking
// 2. Mapper (pkg/mapper): screen to source-pixel conversion for full-bleed and letterboxed views
// 3. Extractor (pkg/extractor): pixel copy, PNG encoding and file naming
// 4. Session (pkg/session): mode handling and the confirm pipeline
//
// Camera, gallery and storage are collaborators (pkg/client); pkg/surface and
// pkg/storage provide file, screen and SQLite-backed implementations.
// pkg/detection can place the crop box over the subject found by a vision
// model; pkg/vision does the same offline from pixel contrast.
package unifiedcropper

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/menta2k/unified-cropper/internal/config"
	"github.com/menta2k/unified-cropper/internal/logging"
	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/detection"
	"github.com/menta2k/unified-cropper/pkg/extractor"
	"github.com/menta2k/unified-cropper/pkg/ollama"
	"github.com/menta2k/unified-cropper/pkg/session"
	"github.com/menta2k/unified-cropper/pkg/storage"
	"github.com/menta2k/unified-cropper/pkg/types"
	"github.com/menta2k/unified-cropper/pkg/vision"
)

// Version of the unified cropper library
const Version = "1.0.0"

// Config is the file and environment configuration.
type Config = config.Config

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML or JSON configuration file.
func LoadConfig(path string) (*Config, error) { return config.LoadFromFile(path) }

// Cropper is a crop session together with the resources it was built with.
type Cropper struct {
	*session.Controller

	options session.Options
	history *storage.Indexed
}

// New creates a Cropper with default configuration
func New(opts ...session.Option) *Cropper {
	return &Cropper{Controller: session.New(opts...)}
}

// NewWithConfig creates a Cropper from cfg: logger, layout, output storage,
// optional crop history and optional vision suggestions. opts are applied
// last and may add the live surface and gallery.
func NewWithConfig(cfg *Config, w io.Writer, opts ...session.Option) (*Cropper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, w)
	base := []session.Option{
		session.WithLogger(logger),
		session.WithLayout(session.Layout{Screen: cfg.Display.Screen(), Container: cfg.Display.Container()}),
		session.WithExtractor(extractor.NewWithConfig(extractor.Config{Prefix: cfg.Output.Prefix})),
	}

	cr := &Cropper{
		options: session.Options{
			Mode:         types.Mode(cfg.Session.Mode),
			AspectRatio:  cfg.Session.AspectRatio,
			Persist:      cfg.Session.Persist,
			StrictAspect: cfg.Session.StrictAspect,
		},
	}

	if cfg.Session.Persist {
		dir, err := storage.NewDir(cfg.Output.Dir, logger)
		if err != nil {
			return nil, err
		}
		var store client.Storage = dir
		if cfg.Output.HistoryDB != "" {
			cr.history, err = storage.OpenIndexed(cfg.Output.HistoryDB, dir)
			if err != nil {
				return nil, fmt.Errorf("failed to open crop history: %w", err)
			}
			store = cr.history
		}
		base = append(base, session.WithStorage(store))
	}

	if cfg.Vision.Enabled {
		var suggester session.Suggester
		if strings.EqualFold(cfg.Vision.Backend, config.BackendSaliency) {
			suggester = vision.New(logger)
		} else {
			vc, err := ollama.NewClient(cfg.Vision.URL)
			if err != nil {
				cr.Close()
				return nil, fmt.Errorf("failed to create vision client: %w", err)
			}
			suggester = detection.NewDetector(vc, cfg.Vision.Model)
		}
		base = append(base, session.WithSuggester(suggester, cfg.Vision.MaxDim, cfg.Vision.Quality))
	}

	cr.Controller = session.New(append(base, opts...)...)
	return cr, nil
}

// StartConfigured starts the session with the options from the configuration.
func (c *Cropper) StartConfigured(ctx context.Context) error {
	return c.Start(ctx, c.options)
}

// Options returns the session options derived from the configuration.
func (c *Cropper) Options() session.Options { return c.options }

// History returns the most recent persisted crops. It is empty unless a
// history database was configured.
func (c *Cropper) History(ctx context.Context, limit int) ([]storage.Record, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.List(ctx, limit)
}

// Close ends the session and releases the history database.
func (c *Cropper) Close() error {
	if c.Controller != nil {
		c.End(context.Background())
	}
	if c.history != nil {
		return c.history.Close()
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
