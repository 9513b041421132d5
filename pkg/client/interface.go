// Package client declares the collaborators the crop session depends on.
// Implementations report failures with the error types from pkg/types so
// callers can tell a cancel from a hardware fault from a decode failure.
package client

import (
	"context"

	"github.com/menta2k/unified-cropper/pkg/types"
)

// PreviewConfig is passed to LiveSurface.Start.
type PreviewConfig struct {
	Width  int
	Height int
	// Position is "rear" or "front" for cameras; other surfaces ignore it.
	Position string
}

// LiveSurface is a live camera preview that can capture still frames.
type LiveSurface interface {
	Start(ctx context.Context, cfg PreviewConfig) error
	Capture(ctx context.Context) ([]byte, error)
	Stop(ctx context.Context) error
}

// GalleryPicker lets the user choose an existing image.
// A user cancel is reported as types.ErrCancelled.
type GalleryPicker interface {
	Pick(ctx context.Context) ([]byte, error)
}

// Storage persists crop payloads and returns where they were written.
type Storage interface {
	Save(ctx context.Context, data []byte, suggestedName string) (string, error)
}

// VisionClient asks a vision model to locate the main subject of an image.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	LocateSubject(ctx context.Context, model, prompt, imgB64 string) (*types.SubjectResult, error)
}
