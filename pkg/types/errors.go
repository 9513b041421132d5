package types

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled means the user backed out of an acquisition (e.g. closed the picker).
	ErrCancelled = errors.New("cancelled by user")
	// ErrUnavailable means the camera or gallery cannot be used right now.
	ErrUnavailable = errors.New("source unavailable")
	// ErrNoImage means confirm was invoked with nothing to crop.
	ErrNoImage = errors.New("no image held")
	// ErrBusy rejects a confirm while another one is in flight.
	ErrBusy = errors.New("crop already in progress")
	// ErrDegenerateGeometry marks a zero-sized surface, image or rectangle.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrInvalidAspectRatio is returned for malformed "W:H" strings.
	ErrInvalidAspectRatio = errors.New("invalid aspect ratio")
)

// AcquisitionError reports a camera or gallery failure. Recoverable.
type AcquisitionError struct {
	Source SourceKind
	Op     string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Cancelled reports whether the failure was the user backing out.
func (e *AcquisitionError) Cancelled() bool { return errors.Is(e.Err, ErrCancelled) }

// DecodeError reports undecodable image bytes. Recoverable, no crop is emitted.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode image: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// PersistenceError reports a failed storage write. The crop result is still emitted.
type PersistenceError struct {
	Name string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
