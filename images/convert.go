package images

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
)

// DefaultJPEGQuality is the quality used for the JPEG round trip when none is
// configured.
const DefaultJPEGQuality = 75

// ToImage converts the frame into an RGB-equivalent image.
//
// RGBA frames are wrapped without copying. YUV 4:2:0 frames become an
// *image.YCbCr; the luma plane is shared and semi-planar chroma is
// de-interleaved into compact planes.
//
// Returns:
//   - image.Image: The converted image, valid until the frame is closed.
//   - error: ErrInvalidFrame (wrapped) if the frame fails validation.
func (f *Frame) ToImage() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case FormatRGBA:
		p := f.Planes[0]
		return &image.RGBA{Pix: p.Data, Stride: p.RowStride, Rect: rect}, nil

	case FormatYUV420:
		cw, ch := chromaSize(f.Width, f.Height)
		cb, cbStride := compactPlane(f.Planes[1], cw, ch)
		cr, crStride := compactPlane(f.Planes[2], cw, ch)
		if cbStride != crStride {
			// Planar sources with mismatched chroma strides need a common stride.
			cb, cbStride = copyPlane(f.Planes[1], cw, ch)
			cr, _ = copyPlane(f.Planes[2], cw, ch)
		}
		return &image.YCbCr{
			Y:              f.Planes[0].Data,
			Cb:             cb,
			Cr:             cr,
			YStride:        f.Planes[0].RowStride,
			CStride:        cbStride,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	}

	return nil, errors.Wrapf(ErrInvalidFrame, "pixel format %s", f.Format)
}

// compactPlane returns plane data usable as a YCbCr chroma plane. Planar data
// is returned as is; interleaved data is copied.
func compactPlane(p Plane, w, h int) ([]byte, int) {
	if p.PixelStride == 1 {
		return p.Data, p.RowStride
	}
	return copyPlane(p, w, h)
}

func copyPlane(p Plane, w, h int) ([]byte, int) {
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		row := p.Data[y*p.RowStride:]
		for x := 0; x < w; x++ {
			out[y*w+x] = row[x*p.PixelStride]
		}
	}
	return out, w
}

// RoundTripJPEG encodes img as JPEG and decodes it again.
//
// Some camera stacks only offer a compressed path from YUV to RGB; this
// reproduces that lossy conversion so results match across sources.
//
// Arguments:
//   - img: The image to round trip.
//   - quality: JPEG quality in [1, 100]. Out of range values use DefaultJPEGQuality.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: Any encode or decode failure.
func RoundTripJPEG(img image.Image, quality int) (image.Image, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode jpeg")
	}

	out, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode jpeg")
	}
	return out, nil
}
