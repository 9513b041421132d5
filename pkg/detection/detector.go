package detection

import (
	"context"
	"errors"
	"strings"

	"github.com/menta2k/unified-cropper/pkg/client"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for a box around the subject a user would most likely crop to.
const DefaultPrompt = `You are an image subject locator for a cropping tool.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  },
  "description": "short neutral sentence (max 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box should tightly include the visually dominant subject (prefer documents, people, vehicles, animals; else the most central salient object).
- Description must be brief and factual. Do not guess real identities.
- If no subject is found, return:
  {"primary":{"label":"none","confidence":0.0,"box":{"x":0,"y":0,"w":0,"h":0}},"description":"no subject"}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// MinConfidence below which a located subject is discarded.
const MinConfidence = 0.2

// ErrNoSubject is returned when the model found nothing worth cropping to.
var ErrNoSubject = errors.New("no subject found")

// fallbackIndicators mark labels produced by parse fallbacks rather than the model.
var fallbackIndicators = []string{"unclear", "parse", "error", "fallback", "non-json", "generic"}

// Detector locates crop subjects using a vision model
type Detector struct {
	client client.VisionClient
	model  string
	prompt string
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string) *Detector {
	return &Detector{client: client, model: model, prompt: DefaultPrompt}
}

// WithPrompt returns a copy of the detector that uses prompt.
func (d *Detector) WithPrompt(prompt string) *Detector {
	cp := *d
	cp.prompt = prompt
	return &cp
}

// Model returns the model name queries are sent to.
func (d *Detector) Model() string {
	return d.model
}

// DetectSubject returns the subject box, normalized to [0,1] and clamped to the image.
// ErrNoSubject is returned when nothing usable was found.
func (d *Detector) DetectSubject(ctx context.Context, imageB64 string) (*types.SubjectResult, error) {
	result, err := d.client.LocateSubject(ctx, d.model, d.prompt, imageB64)
	if err != nil {
		return nil, err
	}
	result.Primary.Box = normalizeBox(result.Primary.Box)
	result = validateResult(result)
	if !result.Found() {
		return result, ErrNoSubject
	}
	return result, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imageB64)
}

// validateResult downgrades low-confidence and fallback results to "none".
func validateResult(result *types.SubjectResult) *types.SubjectResult {
	label := strings.ToLower(result.Primary.Label)
	if label == "none" {
		return result
	}
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0
			return result
		}
	}
	if result.Primary.Confidence > 0 && result.Primary.Confidence < MinConfidence {
		result.Primary.Label = "none"
	}
	return result
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox keeps the box inside the unit square.
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
