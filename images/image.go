package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// ErrUnsupportedFormat is returned for image formats without a codec.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".webp":
		return FormatWebP, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "extension %q", filepath.Ext(path))
}

// NewImage sniffs the encoded data and records its format and size without
// decoding the pixels.
func NewImage(data []byte) (*Image, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedFormat, err.Error())
	}

	return &Image{
		Format: ImageFormat(name),
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Decode decodes the pixel data.
func (i *Image) Decode() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s image", i.Format)
	}
	return img, nil
}

// Encode writes img to w in the given format.
//
// Arguments:
//   - w: The destination.
//   - img: The image to encode.
//   - format: One of FormatJPEG, FormatPNG, FormatWebP.
//   - quality: Lossy quality in [1, 100] for JPEG and WebP.
//
// Returns:
//   - error: ErrUnsupportedFormat (wrapped) or an encoder error.
func Encode(w io.Writer, img image.Image, format ImageFormat, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	switch format {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		return png.Encode(w, img)
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	}
	return errors.Wrapf(ErrUnsupportedFormat, "format %q", format)
}
