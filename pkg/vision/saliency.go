// Package vision places the crop box without a vision model: it scores every
// pixel by local contrast and brightness and reports the region holding the
// strongest response as the subject.
package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/unified-cropper/pkg/detection"
	"github.com/menta2k/unified-cropper/pkg/processing"
	"github.com/menta2k/unified-cropper/pkg/types"
)

// SubjectLabel is the label reported for a located region.
const SubjectLabel = "salient region"

// maxColorDistance is the RGB distance between black and white on a 0-255 scale.
var maxColorDistance = math.Sqrt(3 * 255 * 255)

var neighbors = [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

// Config holds the saliency scoring parameters
type Config struct {
	// AnalysisDim is the longest side an image is reduced to before scoring.
	AnalysisDim      int
	EdgeWeight       float64
	BrightnessWeight float64
	// Threshold is the fraction of the strongest response a pixel needs to
	// belong to the subject.
	Threshold float64
	// MinSubjectRatio is the smallest subject area, relative to the image, that is reported.
	MinSubjectRatio float64
}

// DefaultConfig returns the scoring parameters used by New.
func DefaultConfig() Config {
	return Config{
		AnalysisDim:      256,
		EdgeWeight:       0.6,
		BrightnessWeight: 0.2,
		Threshold:        0.5,
		MinSubjectRatio:  0.01,
	}
}

// Saliency locates subjects from pixel statistics alone
type Saliency struct {
	config    Config
	processor *processing.Processor
	logger    *slog.Logger
}

// New creates a Saliency locator with default configuration
func New(logger *slog.Logger) *Saliency {
	return NewWithConfig(DefaultConfig(), logger)
}

// NewWithConfig creates a Saliency locator with custom configuration
func NewWithConfig(config Config, logger *slog.Logger) *Saliency {
	if logger == nil {
		logger = slog.Default()
	}
	if config.AnalysisDim <= 0 {
		config.AnalysisDim = DefaultConfig().AnalysisDim
	}
	return &Saliency{config: config, processor: processing.NewProcessor(logger), logger: logger}
}

// DetectSubject decodes the base64 image and returns the bounding box of its
// most salient pixels, normalized to [0,1]. The confidence is the share of the
// total response that falls inside the box. Images without any contrast yield
// detection.ErrNoSubject.
func (s *Saliency) DetectSubject(ctx context.Context, imageB64 string) (*types.SubjectResult, error) {
	img, err := s.processor.DecodeBase64(ctx, imageB64)
	if err != nil {
		return nil, err
	}
	small := s.reduce(img)

	sal, peakEdge, err := s.saliencyMap(ctx, small)
	if err != nil {
		return nil, err
	}
	none := &types.SubjectResult{Primary: types.Primary{Label: "none"}, Description: "no contrast in image"}
	if peakEdge == 0 {
		return none, detection.ErrNoSubject
	}

	b := small.Bounds()
	w, h := b.Dx(), b.Dy()
	box, conf := s.subjectBounds(sal, w, h)
	if box.Empty() || float64(box.Dx()*box.Dy()) < s.config.MinSubjectRatio*float64(w*h) {
		none.Description = "salient region too small"
		return none, detection.ErrNoSubject
	}

	res := &types.SubjectResult{
		Primary: types.Primary{
			Label:      SubjectLabel,
			Confidence: conf,
			Box: types.Box{
				X: float64(box.Min.X) / float64(w),
				Y: float64(box.Min.Y) / float64(h),
				W: float64(box.Dx()) / float64(w),
				H: float64(box.Dy()) / float64(h),
			},
		},
		Description: fmt.Sprintf("high-contrast region covering %.0f%% of the image", 100*float64(box.Dx()*box.Dy())/float64(w*h)),
	}
	s.logger.Debug("salient region located", "box", box.String(), "confidence", conf)
	return res, nil
}

// reduce returns an NRGBA copy of img no larger than AnalysisDim on either side.
func (s *Saliency) reduce(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dim := s.config.AnalysisDim
	if b.Dx() > dim || b.Dy() > dim {
		return imaging.Fit(img, dim, dim, imaging.Box)
	}
	return imaging.Clone(img)
}

// saliencyMap scores interior pixels. It also returns the strongest edge response.
func (s *Saliency) saliencyMap(ctx context.Context, img *image.NRGBA) ([][]float64, float64, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	sal := make([][]float64, h)
	for i := range sal {
		sal[i] = make([]float64, w)
	}

	var peakEdge float64
	for y := 1; y < h-1; y++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		for x := 1; x < w-1; x++ {
			c := img.NRGBAAt(x+b.Min.X, y+b.Min.Y)
			var edge float64
			for _, n := range neighbors {
				o := img.NRGBAAt(x+n[0]+b.Min.X, y+n[1]+b.Min.Y)
				dr := float64(c.R) - float64(o.R)
				dg := float64(c.G) - float64(o.G)
				db := float64(c.B) - float64(o.B)
				edge += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edge /= 8 * maxColorDistance
			peakEdge = math.Max(peakEdge, edge)

			brightness := (float64(c.R) + float64(c.G) + float64(c.B)) / (3 * 255)
			sal[y][x] = s.config.EdgeWeight*edge + s.config.BrightnessWeight*brightness
		}
	}
	return sal, peakEdge, nil
}

// subjectBounds returns the bounding rectangle of pixels scoring at least
// Threshold times the peak, and the share of the total score inside it.
func (s *Saliency) subjectBounds(sal [][]float64, w, h int) (image.Rectangle, float64) {
	var peak, total float64
	for y := range sal {
		for _, v := range sal[y] {
			peak = math.Max(peak, v)
			total += v
		}
	}
	if peak == 0 {
		return image.Rectangle{}, 0
	}

	cut := s.config.Threshold * peak
	minX, minY, maxX, maxY := w, h, -1, -1
	for y := range sal {
		for x, v := range sal[y] {
			if v < cut {
				continue
			}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, 0
	}
	box := image.Rect(minX, minY, maxX+1, maxY+1)

	var inside float64
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			inside += sal[y][x]
		}
	}
	return box, inside / total
}
