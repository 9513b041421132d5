package types

import "time"

// SourceKind identifies where the image being cropped came from.
type SourceKind string

const (
	SourceCamera  SourceKind = "camera"
	SourceGallery SourceKind = "gallery"
)

// Mode is the cropping workflow the session is running.
type Mode string

const (
	// ModePreCapture crops on the live preview; confirm captures and crops in one step.
	ModePreCapture Mode = "preCaptureCrop"
	// ModePostCapture captures a still first, then crops it.
	ModePostCapture Mode = "postCaptureCrop"
	// ModeGallery crops an image picked from the gallery.
	ModeGallery Mode = "gallery"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModePreCapture, ModePostCapture, ModeGallery:
		return Mode(s), true
	}
	return "", false
}

// SourceKind returns the source a mode acquires images from.
func (m Mode) SourceKind() SourceKind {
	if m == ModeGallery {
		return SourceGallery
	}
	return SourceCamera
}

// CropResult is emitted once per successful crop and never mutated afterwards.
type CropResult struct {
	Name       string     `json:"imageName"`
	Path       string     `json:"imagePath,omitempty"`
	SourceKind SourceKind `json:"imageSourceType"`
	Type       string     `json:"imageType"`
	Bytes      []byte     `json:"-"`
	// Region is the source-pixel rectangle that was extracted.
	Region    Rect      `json:"region"`
	CreatedAt time.Time `json:"createdAt"`
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Primary represents the primary subject detected in an image
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// SubjectResult is the answer of a vision model asked to locate the main subject.
type SubjectResult struct {
	Primary     Primary `json:"primary"`
	Description string  `json:"description"`
}

// Found reports whether the model located a usable subject.
func (r SubjectResult) Found() bool {
	return r.Primary.Label != "none" && r.Primary.Box.W > 0 && r.Primary.Box.H > 0
}
