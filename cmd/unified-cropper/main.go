package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	unifiedcropper "github.com/menta2k/unified-cropper"
	"github.com/menta2k/unified-cropper/internal/config"
	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/extractor"
	"github.com/menta2k/unified-cropper/pkg/processing"
	"github.com/menta2k/unified-cropper/pkg/session"
	"github.com/menta2k/unified-cropper/pkg/surface"
	"github.com/menta2k/unified-cropper/pkg/types"
)

type flags struct {
	cfgPath, in, mode, aspect, ops, outDir, backend string
	persist, screen, suggest, debug, strict         bool
	dbgext                                          string
	dbgquality, dbgmax                              int
	dbglossless                                     bool
	history                                         int
	timeout                                         time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.cfgPath, "config", "", "config file (.yaml, .yml or .json)")
	flag.StringVar(&f.in, "in", "", "input image: camera frame or gallery pick (jpg/png/webp)")
	flag.StringVar(&f.mode, "mode", "", "preCaptureCrop|postCaptureCrop|gallery")
	flag.StringVar(&f.aspect, "aspect", "", `aspect ratio lock, e.g. "16:9"`)
	flag.BoolVar(&f.strict, "strict", false, "reject a malformed -aspect instead of ignoring it")
	flag.StringVar(&f.ops, "ops", "", `pointer script, e.g. "move:-40,20 resize:60,0"`)
	flag.StringVar(&f.outDir, "out", "", "output directory for crops")
	flag.BoolVar(&f.persist, "persist", false, "save crops to the output directory")
	flag.BoolVar(&f.screen, "screen", false, "use the desktop screen as the live surface")
	flag.BoolVar(&f.suggest, "suggest", false, "place the crop box on the subject found by the vision model")
	flag.StringVar(&f.backend, "backend", "", "subject suggester for -suggest: ollama|saliency")
	flag.IntVar(&f.history, "history", 0, "print the last N saved crops and exit")
	flag.DurationVar(&f.timeout, "timeout", 5*time.Minute, "overall timeout")

	flag.BoolVar(&f.debug, "debug", false, "write a debug overlay of the crop region on the source image")
	flag.StringVar(&f.dbgext, "dbgext", "png", "debug overlay format: png|jpg|webp")
	flag.IntVar(&f.dbgquality, "dbgquality", 92, "debug overlay quality (for jpg/webp)")
	flag.BoolVar(&f.dbglossless, "dbglossless", false, "debug overlay WebP lossless mode")
	flag.IntVar(&f.dbgmax, "dbgmax", 0, "shrink the debug overlay so its longest side is at most N pixels (0 keeps full size)")
	flag.Parse()

	if err := execute(f); err != nil {
		log.Fatal(err)
	}
}

// execute runs one crop session. Every resource it opens is released before it returns.
func execute(f flags) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := config.Default()
	if f.cfgPath != "" {
		loaded, err := config.LoadFromFile(f.cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "mode":
			cfg.Session.Mode = f.mode
		case "aspect":
			cfg.Session.AspectRatio = f.aspect
		case "strict":
			cfg.Session.StrictAspect = f.strict
		case "persist":
			cfg.Session.Persist = f.persist
		case "out":
			cfg.Output.Dir = f.outDir
		case "suggest":
			cfg.Vision.Enabled = f.suggest
		case "backend":
			cfg.Vision.Backend = f.backend
		}
	})
	if f.history > 0 && cfg.Output.HistoryDB != "" {
		cfg.Session.Persist = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var live client.LiveSurface
	switch {
	case f.screen:
		size, err := surface.ScreenSize()
		if err != nil {
			return err
		}
		cfg.Display.ScreenWidth, cfg.Display.ScreenHeight = size.Width, size.Height
		live = surface.NewScreen(nil)
	case f.in != "":
		live = surface.NewFile(f.in, nil)
	}

	opts := []session.Option{
		session.WithResultHandler(func(r types.CropResult) {
			js, _ := json.MarshalIndent(r, "", "  ")
			fmt.Println(string(js))
		}),
	}
	if live != nil {
		opts = append(opts, session.WithLiveSurface(live))
	}
	if f.in != "" {
		opts = append(opts, session.WithGallery(surface.NewFilePicker(f.in)))
	}

	c, err := unifiedcropper.NewWithConfig(cfg, os.Stderr, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if f.history > 0 {
		recs, err := c.History(ctx, f.history)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Printf("%s\t%s\t%d\t%s\n", r.CreatedAt.Format(time.RFC3339), r.Name, r.Size, r.Path)
		}
		return nil
	}

	if f.in == "" && !f.screen {
		return fmt.Errorf("usage: %s -in image.png [-mode preCaptureCrop|postCaptureCrop|gallery] [-aspect W:H] [-ops \"move:dx,dy resize:dx,dy\"] [-persist -out dir] [-debug]", filepath.Base(os.Args[0]))
	}

	if err := run(ctx, c, f.ops, f.suggest); err != nil {
		return err
	}

	res, err := c.Confirm(ctx)
	var perr *types.PersistenceError
	switch {
	case errors.As(err, &perr):
		log.Printf("crop emitted but not fully saved: %v", perr)
	case err != nil:
		return err
	}

	if !cfg.Session.Persist {
		dir := cfg.Output.Dir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, res.Name)
		if err := os.WriteFile(path, res.Bytes, 0o644); err != nil {
			return err
		}
		log.Printf("wrote %s", path)
	}

	if f.debug {
		if err := writeDebugOverlay(ctx, c, res, cfg.Output.Dir, f); err != nil {
			log.Printf("debug overlay failed: %v", err)
		}
	}
	return nil
}

// run acquires the image for the configured mode and replays the pointer script.
func run(ctx context.Context, c *unifiedcropper.Cropper, ops string, suggest bool) error {
	if err := c.StartConfigured(ctx); err != nil {
		return err
	}
	switch c.Mode() {
	case types.ModeGallery:
		if err := c.Pick(ctx); err != nil {
			return err
		}
	case types.ModePostCapture:
		if err := c.Capture(ctx); err != nil {
			return err
		}
	}

	if suggest {
		if c.Mode() == types.ModePreCapture {
			log.Printf("-suggest needs a held image; ignored in %s mode", c.Mode())
		} else if res, err := c.Suggest(ctx); err != nil {
			log.Printf("suggestion failed: %v", err)
		} else {
			log.Printf("subject=%q conf=%.2f: %s", res.Primary.Label, res.Primary.Confidence, res.Description)
		}
	}

	steps, err := parseOps(ops)
	if err != nil {
		return err
	}
	for _, s := range steps {
		replay(c, s)
	}
	log.Printf("crop box %s", c.CropRect())
	return nil
}

func writeDebugOverlay(ctx context.Context, c *unifiedcropper.Cropper, res *types.CropResult, dir string, f flags) error {
	processor := processing.NewProcessor(nil)
	img, err := processor.Decode(ctx, c.Image())
	if err != nil {
		return err
	}
	overlay := processor.CreateDebugOverlay(img, extractor.PixelBounds(res.Region))
	overlay = processor.ShrinkToFit(overlay, f.dbgmax)
	name := strings.TrimSuffix(res.Name, filepath.Ext(res.Name))
	path := filepath.Join(dir, fmt.Sprintf("%s_debug.%s", name, strings.ToLower(f.dbgext)))
	if err := processor.SaveImage(overlay, path, f.dbgext, f.dbgquality, f.dbglossless); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}
