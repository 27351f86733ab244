package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// ViewPolicy selects how the source image is mapped onto the display surface.
// It is chosen by the caller; it is never inferred from the sizes.
type ViewPolicy string

const (
	// ViewFill stretches the image over the whole view with independent X and
	// Y scales and no offset.
	ViewFill ViewPolicy = "fill"
	// ViewAspectFit scales uniformly so the whole image fits and centers it,
	// leaving bars on one axis.
	ViewAspectFit ViewPolicy = "aspect_fit"
)

// Valid reports whether p is a known policy.
func (p ViewPolicy) Valid() bool {
	return p == ViewFill || p == ViewAspectFit
}

// View is the display surface detections are mapped onto.
//
// A zero Width or Height means "no view": detections stay in source image
// pixels.
type View struct {
	Width  int        `yaml:"width"`
	Height int        `yaml:"height"`
	Policy ViewPolicy `yaml:"policy"`
}

// ErrInvalidScale is returned when a scale context cannot be built from the
// given sizes.
var ErrInvalidScale = errors.New("invalid scale context")

// ScaleContext carries the factors that map model-space coordinates to view
// pixels for one frame.
//
//	x_view = x_model * ImgScaleX * ViewScaleX + ViewOffsetX
//	y_view = y_model * ImgScaleY * ViewScaleY + ViewOffsetY
type ScaleContext struct {
	ModelWidth, ModelHeight int
	SrcWidth, SrcHeight     int

	ImgScaleX, ImgScaleY   float32
	ViewScaleX, ViewScaleY float32
	ViewOffsetX            float32
	ViewOffsetY            float32
}

// NewScaleContext computes the mapping for one frame.
//
// Arguments:
//   - modelW, modelH: The model input size.
//   - srcW, srcH: The source image size after rotation.
//   - view: The display surface and its policy.
//
// Returns:
//   - ScaleContext: The mapping.
//   - error: ErrInvalidScale (wrapped) for non-positive sizes or an unknown policy.
func NewScaleContext(modelW, modelH, srcW, srcH int, view View) (ScaleContext, error) {
	if modelW <= 0 || modelH <= 0 || srcW <= 0 || srcH <= 0 {
		return ScaleContext{}, errors.Wrapf(ErrInvalidScale, "model %dx%d, source %dx%d", modelW, modelH, srcW, srcH)
	}

	sc := ScaleContext{
		ModelWidth:  modelW,
		ModelHeight: modelH,
		SrcWidth:    srcW,
		SrcHeight:   srcH,
		ImgScaleX:   float32(srcW) / float32(modelW),
		ImgScaleY:   float32(srcH) / float32(modelH),
		ViewScaleX:  1,
		ViewScaleY:  1,
	}

	if view.Width <= 0 || view.Height <= 0 {
		return sc, nil
	}

	sx := float32(view.Width) / float32(srcW)
	sy := float32(view.Height) / float32(srcH)

	switch view.Policy {
	case ViewFill:
		sc.ViewScaleX, sc.ViewScaleY = sx, sy
	case ViewAspectFit:
		s := math32.Min(sx, sy)
		sc.ViewScaleX, sc.ViewScaleY = s, s
		sc.ViewOffsetX = (float32(view.Width) - s*float32(srcW)) / 2
		sc.ViewOffsetY = (float32(view.Height) - s*float32(srcH)) / 2
	default:
		return ScaleContext{}, errors.Wrapf(ErrInvalidScale, "view policy %q", view.Policy)
	}

	return sc, nil
}

// Apply maps a model-space box into view pixels. No clipping is done.
func (sc ScaleContext) Apply(r images.Rect) images.Rect {
	return r.Transform(
		sc.ImgScaleX*sc.ViewScaleX,
		sc.ImgScaleY*sc.ViewScaleY,
		sc.ViewOffsetX,
		sc.ViewOffsetY,
	)
}
