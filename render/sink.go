package render

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// LogSink logs every detection.
type LogSink struct {
	Logger *zap.Logger
	Labels LabelFunc
}

// OnDetections implements controller.ResultSink.
func (s LogSink) OnDetections(dets []postprocess.Detection) {
	if len(dets) == 0 {
		s.Logger.Info("no detections")
		return
	}
	for _, d := range dets {
		s.Logger.Info("detection",
			zap.String("label", Caption(d, s.Labels)),
			zap.Int("class_id", d.ClassID),
			zap.Float32("score", d.Score),
			zap.Float32("x1", d.Box.X1),
			zap.Float32("y1", d.Box.Y1),
			zap.Float32("x2", d.Box.X2),
			zap.Float32("y2", d.Box.Y2),
		)
	}
}

// FileSink writes the current image, annotated with each delivery, to a file.
//
// Target selects the image and output path before a run; OnDetections uses
// whatever was selected last.
type FileSink struct {
	Labels  LabelFunc
	Style   Style
	Quality int
	Logger  *zap.Logger

	mu     sync.Mutex
	source image.Image
	path   string
	err    error
}

// Target selects the image to annotate and where to write it.
func (s *FileSink) Target(img image.Image, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source, s.path, s.err = img, path, nil
}

// Err returns the error of the last write, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnDetections implements controller.ResultSink.
func (s *FileSink) OnDetections(dets []postprocess.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		s.err = errors.New("file sink has no target")
		return
	}
	s.err = s.write(dets)
	if s.err != nil && s.Logger != nil {
		s.Logger.Error("failed to write annotated image", zap.String("path", s.path), zap.Error(s.err))
	}
}

func (s *FileSink) write(dets []postprocess.Detection) error {
	format, err := images.FormatFromPath(s.path)
	if err != nil {
		return err
	}

	out := Annotate(s.source, dets, s.Labels, s.Style)

	f, err := os.Create(s.path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", s.path)
	}
	if err := images.Encode(f, out, format, s.Quality); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %s", s.path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", s.path)
}
