// Package render - Drawing detections onto images and result sinks built on it.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nvr-ai/go-detect/models/postprocess"
)

// LabelFunc names a class id.
type LabelFunc func(classID int) string

// Style controls how boxes and labels are drawn.
type Style struct {
	// Palette colors boxes by class id, wrapping around.
	Palette    []color.RGBA
	LabelColor color.RGBA
	LineWidth  int
	// HideLabels draws boxes only.
	HideLabels bool
}

// DefaultPalette is used when Style.Palette is empty.
var DefaultPalette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
}

// DefaultStyle draws 2px boxes with white labels.
func DefaultStyle() Style {
	return Style{
		LabelColor: color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LineWidth:  2,
	}
}

// BoxColor returns the color for a class id.
func (s Style) BoxColor(classID int) color.RGBA {
	palette := s.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Annotate draws detections on a copy of img.
//
// Boxes are expected in img pixels; parts outside the image are clipped.
//
// Arguments:
//   - img: The source image. It is not modified.
//   - dets: The detections.
//   - labels: Names class ids. May be nil, in which case ids are printed.
//   - style: Colors and line width.
//
// Returns:
//   - *image.RGBA: The annotated copy, with bounds starting at (0, 0).
func Annotate(img image.Image, dets []postprocess.Detection, labels LabelFunc, style Style) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	if style.LineWidth <= 0 {
		style.LineWidth = 1
	}

	for _, d := range dets {
		r, ok := clip(d, out.Bounds())
		if !ok {
			continue
		}
		c := style.BoxColor(d.ClassID)
		drawBox(out, r, c, style.LineWidth)
		if !style.HideLabels {
			drawLabel(out, Caption(d, labels), r, c, style.LabelColor)
		}
	}

	return out
}

// Caption formats "label 0.87" for a detection.
func Caption(d postprocess.Detection, labels LabelFunc) string {
	name := fmt.Sprintf("class %d", d.ClassID)
	if labels != nil {
		name = labels(d.ClassID)
	}
	return fmt.Sprintf("%s %.2f", name, d.Score)
}

// clip converts a detection box to integer pixels inside bounds.
func clip(d postprocess.Detection, bounds image.Rectangle) (image.Rectangle, bool) {
	x1 := int(math32.Floor(d.Box.X1))
	y1 := int(math32.Floor(d.Box.Y1))
	x2 := int(math32.Ceil(d.Box.X2))
	y2 := int(math32.Ceil(d.Box.Y2))

	r := image.Rect(x1, y1, x2, y2).Intersect(bounds)
	return r, !r.Empty()
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, width int) {
	src := image.NewUniform(c)
	for i := 0; i < width; i++ {
		inner := r.Inset(i)
		if inner.Empty() {
			return
		}
		edges := []image.Rectangle{
			image.Rect(inner.Min.X, inner.Min.Y, inner.Max.X, inner.Min.Y+1),
			image.Rect(inner.Min.X, inner.Max.Y-1, inner.Max.X, inner.Max.Y),
			image.Rect(inner.Min.X, inner.Min.Y, inner.Min.X+1, inner.Max.Y),
			image.Rect(inner.Max.X-1, inner.Min.Y, inner.Max.X, inner.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e, src, image.Point{}, draw.Src)
		}
	}
}

// drawLabel puts text on a filled tab above the box, or inside it when the
// box touches the top edge.
func drawLabel(img *image.RGBA, text string, box image.Rectangle, bg, fg color.RGBA) {
	face := basicfont.Face7x13
	const padding = 2

	width := font.MeasureString(face, text).Ceil() + 2*padding
	height := face.Metrics().Height.Ceil() + padding

	top := box.Min.Y - height
	if top < img.Rect.Min.Y {
		top = box.Min.Y
	}
	left := box.Min.X
	if left+width > img.Rect.Max.X {
		left = img.Rect.Max.X - width
	}
	if left < img.Rect.Min.X {
		left = img.Rect.Min.X
	}

	tab := image.Rect(left, top, left+width, top+height)
	draw.Draw(img, tab, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(left+padding, top+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
