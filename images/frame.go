package images

import (
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrInvalidFrame is returned when a frame buffer is malformed: zero
// dimensions, wrong plane count, short planes, unknown pixel format or an
// unsupported rotation.
var ErrInvalidFrame = errors.New("invalid frame")

// PixelFormat identifies the memory layout of a Frame.
type PixelFormat int

const (
	// FormatUnknown is the zero value and always fails validation.
	FormatUnknown PixelFormat = iota
	// FormatRGBA is a single interleaved 8-bit RGBA plane.
	FormatRGBA
	// FormatYUV420 is three planes (Y, U, V) with 2x2 chroma subsampling.
	// Chroma planes may be planar (pixel stride 1, I420) or semi-planar
	// (pixel stride 2, NV12/NV21 views into one interleaved buffer).
	FormatYUV420
)

// String implements fmt.Stringer.
func (p PixelFormat) String() string {
	switch p {
	case FormatRGBA:
		return "rgba"
	case FormatYUV420:
		return "yuv420"
	default:
		return "unknown"
	}
}

// Plane is one image plane of a Frame.
type Plane struct {
	// Data is the plane memory. It is borrowed from the frame source.
	Data []byte
	// RowStride is the byte distance between the start of two rows.
	RowStride int
	// PixelStride is the byte distance between two samples in a row.
	PixelStride int
}

// Frame is a captured image buffer handed to the pipeline.
//
// A Frame is owned by whoever received it last and must be released exactly
// once with Close. Close is idempotent: the release hook runs on the first
// call only.
type Frame struct {
	Width     int
	Height    int
	Format    PixelFormat
	Planes    []Plane
	Rotation  int
	Timestamp time.Time

	release func()
	once    sync.Once
	closed  atomic.Bool
}

// NewFrame creates a frame over borrowed plane memory.
//
// Arguments:
//   - width, height: The frame size in pixels.
//   - format: The plane layout.
//   - planes: The plane buffers, in Y,U,V order for FormatYUV420.
//   - release: Called once when the frame is closed. May be nil.
//
// Returns:
//   - *Frame: The frame. It is not validated here.
func NewFrame(width, height int, format PixelFormat, planes []Plane, release func()) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Format:    format,
		Planes:    planes,
		Timestamp: time.Now(),
		release:   release,
	}
}

// FromImage wraps a decoded image as an RGBA frame.
//
// *image.RGBA input is used without copying; any other image is drawn into a
// new RGBA buffer first.
func FromImage(img image.Image) *Frame {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	return NewFrame(rgba.Rect.Dx(), rgba.Rect.Dy(), FormatRGBA, []Plane{{
		Data:        rgba.Pix,
		RowStride:   rgba.Stride,
		PixelStride: 4,
	}}, nil)
}

// Close releases the frame buffers back to their source. Safe to call more
// than once.
func (f *Frame) Close() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
		f.closed.Store(true)
	})
}

// Closed reports whether Close has been called.
func (f *Frame) Closed() bool {
	return f.closed.Load()
}

// Validate checks that the frame buffers are large enough for the declared
// size and format. All failures wrap ErrInvalidFrame.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.Wrap(ErrInvalidFrame, "nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrInvalidFrame, "dimensions %dx%d", f.Width, f.Height)
	}
	if !ValidRotation(f.Rotation) {
		return errors.Wrapf(ErrInvalidFrame, "rotation %d", f.Rotation)
	}

	switch f.Format {
	case FormatRGBA:
		if len(f.Planes) != 1 {
			return errors.Wrapf(ErrInvalidFrame, "rgba frame has %d planes", len(f.Planes))
		}
		p := f.Planes[0]
		if p.PixelStride != 4 {
			return errors.Wrapf(ErrInvalidFrame, "rgba pixel stride %d", p.PixelStride)
		}
		return checkPlane("rgba", p, f.Width, f.Height)

	case FormatYUV420:
		if len(f.Planes) != 3 {
			return errors.Wrapf(ErrInvalidFrame, "yuv420 frame has %d planes", len(f.Planes))
		}
		if f.Planes[0].PixelStride != 1 {
			return errors.Wrapf(ErrInvalidFrame, "luma pixel stride %d", f.Planes[0].PixelStride)
		}
		if err := checkPlane("y", f.Planes[0], f.Width, f.Height); err != nil {
			return err
		}
		cw, ch := chromaSize(f.Width, f.Height)
		for i, name := range []string{"u", "v"} {
			p := f.Planes[i+1]
			if p.PixelStride != 1 && p.PixelStride != 2 {
				return errors.Wrapf(ErrInvalidFrame, "%s pixel stride %d", name, p.PixelStride)
			}
			if err := checkPlane(name, p, cw, ch); err != nil {
				return err
			}
		}
		return nil

	default:
		return errors.Wrapf(ErrInvalidFrame, "pixel format %s", f.Format)
	}
}

// ValidRotation reports whether degrees is one of 0, 90, 180 or 270.
func ValidRotation(degrees int) bool {
	switch degrees {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

func chromaSize(w, h int) (int, int) {
	return (w + 1) / 2, (h + 1) / 2
}

// checkPlane verifies the last sample of the last row is addressable.
func checkPlane(name string, p Plane, w, h int) error {
	rowBytes := w * p.PixelStride
	if p.PixelStride == 2 {
		// Semi-planar views end on the last chroma sample, not on its pair.
		rowBytes = (w-1)*2 + 1
	}
	if p.RowStride < rowBytes {
		return errors.Wrapf(ErrInvalidFrame, "%s row stride %d too small for width %d", name, p.RowStride, w)
	}
	need := (h-1)*p.RowStride + rowBytes
	if len(p.Data) < need {
		return errors.Wrapf(ErrInvalidFrame, "%s plane has %d bytes, need %d", name, len(p.Data), need)
	}
	return nil
}
