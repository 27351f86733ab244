// Package images - Frame buffers, pixel conversion and geometry for detection.
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is an axis-aligned box in corner form.
//
// Coordinates are float32 so the same type can carry model-space boxes and
// view-space boxes after scaling. X1,Y1 is the top-left corner, X2,Y2 the
// bottom-right corner.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// RectFromCenter builds a corner-form box from a center point and a size.
func RectFromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns X2-X1. It may be zero or negative for degenerate boxes.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns Y2-Y1. It may be zero or negative for degenerate boxes.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Area returns the box area, or 0 when the box is degenerate.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Transform scales the box per axis and then translates it.
//
// Arguments:
//   - sx, sy: The per-axis multipliers.
//   - ox, oy: The offsets added after scaling.
//
// Returns:
//   - Rect: The transformed box.
func (r Rect) Transform(sx, sy, ox, oy float32) Rect {
	return Rect{
		X1: r.X1*sx + ox,
		Y1: r.Y1*sy + oy,
		X2: r.X2*sx + ox,
		Y2: r.Y2*sy + oy,
	}
}

// ToRectangle rounds the box to an integer image.Rectangle for drawing.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(
		int(math32.Round(r.X1)),
		int(math32.Round(r.Y1)),
		int(math32.Round(r.X2)),
		int(math32.Round(r.Y2)),
	)
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
//	IoU = Area of Intersection / Area of Union
//
// The intersection corners are the maximum of the top-left corners and the
// minimum of the bottom-right corners. Union uses inclusion-exclusion:
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// A box with zero or negative area has no extent, so its IoU with anything
// (including itself) is 0. Such a box can never suppress or be suppressed
// during non-maximum suppression.
//
// Arguments:
//   - r: The first box.
//   - o: The other box.
//
// Returns:
//   - float32: A value in [0, 1].
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	areaR := r.Area()
	areaO := o.Area()
	if areaR <= 0 || areaO <= 0 {
		return 0
	}

	interW := math32.Min(r.X2, o.X2) - math32.Max(r.X1, o.X1)
	interH := math32.Min(r.Y2, o.Y2) - math32.Max(r.Y1, o.Y1)
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	return inter / (areaR + areaO - inter)
}
