// Package models - Class label lists for detection models.
package models

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoLabels is returned when a label source holds no labels.
var ErrNoLabels = errors.New("no labels")

// COCOLabels is the 80 COCO classes without background, in the zero-based
// order YOLO exports index into.
var COCOLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag",
	"tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot",
	"hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// LoadLabels reads one label per line. Surrounding whitespace is trimmed and
// blank lines are skipped; the remaining line order is the class id order.
//
// Arguments:
//   - r: The label source.
//
// Returns:
//   - []string: The labels.
//   - error: ErrNoLabels if nothing was read, or the read error.
func LoadLabels(r io.Reader) ([]string, error) {
	var labels []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read labels")
	}
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}

	return labels, nil
}

// LoadLabelsFile reads a label file from disk.
func LoadLabelsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open labels %s", path)
	}
	defer f.Close()

	labels, err := LoadLabels(f)
	if err != nil {
		return nil, errors.Wrapf(err, "labels %s", path)
	}
	return labels, nil
}
