// Package preprocess - Frame to tensor conversion for detection models.
package preprocess

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
)

// Tensor is a single-image float32 model input.
//
// Its shape is [1, 3, H, W] for CHW ordering and [1, H, W, 3] for HWC. The
// backing slice is row-major.
type Tensor struct {
	*tensor.Dense
	Order model.ChannelOrder
}

// Float32s returns the backing slice.
func (t *Tensor) Float32s() []float32 {
	return t.Dense.Data().([]float32)
}

// Width returns W.
func (t *Tensor) Width() int {
	if t.Order == model.ChannelOrderHWC {
		return t.Shape()[2]
	}
	return t.Shape()[3]
}

// Height returns H.
func (t *Tensor) Height() int {
	if t.Order == model.ChannelOrderHWC {
		return t.Shape()[1]
	}
	return t.Shape()[2]
}

// Options tune the conversion path of camera frames.
type Options struct {
	// ConvertViaJPEG routes non-RGBA frames through a JPEG encode/decode.
	ConvertViaJPEG bool `yaml:"convert_via_jpeg"`
	// JPEGQuality is used by the round trip. Zero means images.DefaultJPEGQuality.
	JPEGQuality int `yaml:"jpeg_quality"`
}

// Result contains the preprocessed tensor and the size of the image it came from.
type Result struct {
	Tensor *Tensor
	// OriginalWidth and OriginalHeight are measured after rotation.
	OriginalWidth  int
	OriginalHeight int
}

// Preprocessor handles frame preprocessing for one model configuration.
type Preprocessor struct {
	config  model.Config
	options Options
}

// NewPreprocessor creates a new preprocessor.
//
// Arguments:
//   - config: The model constants. Input size, mean, std and channel order are used.
//   - options: Conversion options for camera frames.
//
// Returns:
//   - A configured Preprocessor instance.
func NewPreprocessor(config model.Config, options Options) *Preprocessor {
	if options.JPEGQuality == 0 {
		options.JPEGQuality = images.DefaultJPEGQuality
	}
	return &Preprocessor{config: config, options: options}
}

// ToTensor converts a camera frame into a model input.
//
// The frame is converted to RGB, rotated clockwise by rotation degrees,
// resized to exactly the model input size with independent X and Y scales (no
// letterbox) and normalized per channel as (v/255 - mean) / std.
//
// Arguments:
//   - frame: The frame. It is read, not closed.
//   - rotation: One of 0, 90, 180, 270.
//
// Returns:
//   - *Result: The tensor and the rotated source size.
//   - error: images.ErrInvalidFrame (wrapped) for malformed frames.
func (p *Preprocessor) ToTensor(frame *images.Frame, rotation int) (*Result, error) {
	if !images.ValidRotation(rotation) {
		return nil, errors.Wrapf(images.ErrInvalidFrame, "rotation %d", rotation)
	}

	img, err := frame.ToImage()
	if err != nil {
		return nil, err
	}

	if p.options.ConvertViaJPEG && frame.Format != images.FormatRGBA {
		if img, err = images.RoundTripJPEG(img, p.options.JPEGQuality); err != nil {
			return nil, errors.Wrap(err, "jpeg conversion failed")
		}
	}

	if img, err = images.Rotate(img, rotation); err != nil {
		return nil, err
	}

	return p.FromImage(img)
}

// FromImage converts an already decoded, upright image into a model input.
func (p *Preprocessor) FromImage(img image.Image) (*Result, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Wrapf(images.ErrInvalidFrame, "empty image %v", b)
	}

	w, h := p.config.InputWidth, p.config.InputHeight
	resized := resize.Resize(uint(w), uint(h), img, resize.Bilinear)

	data := make([]float32, 3*w*h)
	p.fill(data, resized, w, h)

	shape := []int{1, 3, h, w}
	if p.config.ChannelOrder == model.ChannelOrderHWC {
		shape = []int{1, h, w, 3}
	}

	return &Result{
		Tensor: &Tensor{
			Dense: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
			Order: p.config.ChannelOrder,
		},
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
	}, nil
}

// fill writes normalized pixels into data in the configured channel order.
func (p *Preprocessor) fill(data []float32, img image.Image, w, h int) {
	var scale, offset [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1 / (255 * p.config.Std[c])
		offset[c] = p.config.Mean[c] / p.config.Std[c]
	}

	hwc := p.config.ChannelOrder == model.ChannelOrderHWC
	plane := w * h
	origin := img.Bounds().Min
	rgba, _ := img.(*image.RGBA)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var px [3]uint8
			if rgba != nil {
				i := rgba.PixOffset(origin.X+x, origin.Y+y)
				px = [3]uint8{rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]}
			} else {
				r, g, b, _ := img.At(origin.X+x, origin.Y+y).RGBA()
				px = [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
			}

			for c := 0; c < 3; c++ {
				v := float32(px[c])*scale[c] - offset[c]
				if hwc {
					data[(y*w+x)*3+c] = v
				} else {
					data[c*plane+y*w+x] = v
				}
			}
		}
	}
}
