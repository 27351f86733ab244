package images

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Rotate turns img clockwise by degrees.
//
// imaging rotates counter-clockwise, so a clockwise quarter turn is its
// Rotate270 and vice versa. A zero rotation returns img unchanged.
//
// Arguments:
//   - img: The source image.
//   - degrees: One of 0, 90, 180, 270.
//
// Returns:
//   - image.Image: The rotated image.
//   - error: ErrInvalidFrame (wrapped) for any other angle.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	switch degrees {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	}
	return nil, errors.Wrapf(ErrInvalidFrame, "rotation %d", degrees)
}
