package postprocess

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// OutputLayout pins how the class scores of a raw output row relate to the
// objectness column. It is part of the model configuration and is never
// guessed from the data.
type OutputLayout string

const (
	// LayoutObjectnessSeparate rows carry raw class probabilities; the final
	// score is objectness * classScore[argmax].
	LayoutObjectnessSeparate OutputLayout = "objectness_separate"
	// LayoutPremultiplied rows carry class scores that already include
	// objectness; the final score is classScore[argmax] and column 4 is ignored.
	LayoutPremultiplied OutputLayout = "premultiplied"
)

// Valid reports whether l is a known layout.
func (l OutputLayout) Valid() bool {
	return l == LayoutObjectnessSeparate || l == LayoutPremultiplied
}

var (
	// ErrMalformedModelOutput is returned when the raw output length does not
	// match numAnchors * (5 + numClasses).
	ErrMalformedModelOutput = errors.New("malformed model output")
	// ErrUnsupportedLayout is returned for an unknown OutputLayout.
	ErrUnsupportedLayout = errors.New("unsupported output layout")
)

// rowHeader is cx, cy, w, h, objectness.
const rowHeader = 5

// Decoder turns the flat output of a single-stage detector into detections.
//
// Each of the NumAnchors rows is laid out as
//
//	[cx, cy, w, h, objectness, class_0 ... class_{NumClasses-1}]
//
// with box values in model input pixels.
type Decoder struct {
	NumAnchors int
	NumClasses int
	Layout     OutputLayout
	// NumWorkers bounds the goroutines used to suppress class groups.
	NumWorkers int
}

// OutputLen is the expected raw output length.
func (d *Decoder) OutputLen() int {
	return d.NumAnchors * (rowHeader + d.NumClasses)
}

// Decode filters, maps and suppresses the raw output of one frame.
//
// Arguments:
//   - raw: The flat model output.
//   - sc: The coordinate mapping for the frame.
//   - confThreshold: Candidates scoring below this are discarded.
//   - iouThreshold: Same-class boxes overlapping a kept box at or above this
//     are suppressed.
//
// Returns:
//   - []Detection: Kept detections grouped by ascending class id.
//   - error: ErrMalformedModelOutput (wrapped) on a length mismatch, in which
//     case no detections are returned.
func (d *Decoder) Decode(raw []float32, sc ScaleContext, confThreshold, iouThreshold float32) ([]Detection, error) {
	candidates, err := d.Candidates(raw, sc, confThreshold)
	if err != nil {
		return nil, err
	}

	return ApplyNMS(candidates, NMSConfig{
		IoUThreshold: iouThreshold,
		NumWorkers:   d.NumWorkers,
	}), nil
}

// Candidates scores every anchor row, drops rows under confThreshold and maps
// the survivors into view coordinates.
func (d *Decoder) Candidates(raw []float32, sc ScaleContext, confThreshold float32) ([]Candidate, error) {
	if d.NumAnchors <= 0 || d.NumClasses <= 0 {
		return nil, errors.Wrapf(ErrMalformedModelOutput, "decoder configured with %d anchors and %d classes", d.NumAnchors, d.NumClasses)
	}
	if want := d.OutputLen(); len(raw) != want {
		return nil, errors.Wrapf(ErrMalformedModelOutput, "got %d values, want %d (%d anchors x %d columns)",
			len(raw), want, d.NumAnchors, rowHeader+d.NumClasses)
	}

	layout := d.Layout
	if layout == "" {
		layout = LayoutObjectnessSeparate
	}
	if !layout.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedLayout, "%q", layout)
	}

	numCols := rowHeader + d.NumClasses
	var candidates []Candidate

	for i := 0; i < d.NumAnchors; i++ {
		row := raw[i*numCols : (i+1)*numCols]

		// Ties go to the lowest class index.
		classID := 0
		classScore := row[rowHeader]
		for j := 1; j < d.NumClasses; j++ {
			if s := row[rowHeader+j]; s > classScore {
				classScore = s
				classID = j
			}
		}

		score := classScore
		if layout == LayoutObjectnessSeparate {
			score = row[4] * classScore
		}
		// Written as a negation so NaN scores are dropped too.
		if !(score >= confThreshold) {
			continue
		}

		box := images.RectFromCenter(row[0], row[1], row[2], row[3])
		candidates = append(candidates, Candidate{
			Detection: Detection{
				Box:     sc.Apply(box),
				Score:   score,
				ClassID: classID,
			},
			Anchor: i,
		})
	}

	return candidates, nil
}
