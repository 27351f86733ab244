// Package postprocess - Decoding, suppression and coordinate mapping of raw detector output.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-detect/images"
)

// Detection represents a single labeled, scored box in view coordinates.
type Detection struct {
	// The bounding box of the detection, in view pixels.
	Box images.Rect
	// The confidence score of the detection, in [0, 1].
	Score float32
	// The predicted class index, an index into the model labels.
	ClassID int
}

// Candidate is a detection that passed the confidence filter but has not been
// through suppression yet.
type Candidate struct {
	Detection
	// Anchor is the row index in the raw output. It breaks score ties.
	Anchor int
}

// SortByScore orders detections by descending score. Equal scores keep their
// relative order.
func SortByScore(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Score > dets[j].Score
	})
}
