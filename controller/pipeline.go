package controller

import (
	"context"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/model/preprocess"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
)

// Result is the outcome of analyzing one frame.
type Result struct {
	// Detections are in view pixels, grouped by ascending class id.
	Detections []postprocess.Detection
	// Scale is the mapping that produced the detection boxes.
	Scale postprocess.ScaleContext
	// Throttled is set when the frame was rejected before any work was done.
	Throttled bool
	// Timestamp is the frame's capture time.
	Timestamp time.Time
	// Elapsed covers preprocessing, inference and decoding.
	Elapsed time.Duration
}

// Pipeline runs Throttle -> Preprocessor -> Engine -> Decoder for one model.
//
// Analyze must be called from a single goroutine. Detect may be called
// concurrently if the engine allows it.
type Pipeline struct {
	model        model.Config
	preprocessor *preprocess.Preprocessor
	decoder      *postprocess.Decoder
	engine       inference.Engine
	throttle     *Throttle

	clock    clock.Clock
	logger   *zap.Logger
	profiler *profiler.RuntimeProfiler
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used by the throttle and the stage timings.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithProfiler records stage timings and detection counts.
func WithProfiler(rp *profiler.RuntimeProfiler) Option {
	return func(p *Pipeline) { p.profiler = rp }
}

// NewPipeline builds a pipeline around an engine.
//
// Arguments:
//   - m: The model constants. Validated here.
//   - engine: The inference backend. The pipeline does not close it.
//   - cfg: Throttle and conversion settings.
//   - opts: Optional clock, logger and profiler.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: model.ErrInvalidConfig (wrapped) if m is unusable.
func NewPipeline(m model.Config, engine inference.Engine, cfg Config, opts ...Option) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("pipeline requires an engine")
	}
	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		model:        m,
		preprocessor: preprocess.NewPreprocessor(m, cfg.Conversion),
		decoder:      m.Decoder(),
		engine:       engine,
		throttle:     NewThrottle(cfg.MinInterval),
		clock:        clock.New(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Model returns the validated model constants.
func (p *Pipeline) Model() model.Config {
	return p.model
}

// Analyze processes a live frame.
//
// The frame is released on every path. A frame arriving within the throttle
// interval of the last admitted one returns a Result with Throttled set and a
// nil error.
//
// Arguments:
//   - ctx: Checked before the engine is invoked; the engine call itself is not interrupted.
//   - frame: The camera frame. Its Rotation is applied before resizing.
//   - view: The display surface the boxes are mapped onto.
//
// Returns:
//   - Result: The detections.
//   - error: images.ErrInvalidFrame, inference.ErrModelLoad,
//     inference.ErrInferenceFailure or postprocess.ErrMalformedModelOutput, wrapped.
func (p *Pipeline) Analyze(ctx context.Context, frame *images.Frame, view postprocess.View) (Result, error) {
	if frame == nil {
		return Result{}, errors.Wrap(images.ErrInvalidFrame, "nil frame")
	}
	defer frame.Close()

	if !p.throttle.Admit(p.clock.Now()) {
		return Result{Throttled: true, Timestamp: frame.Timestamp}, nil
	}

	return p.run(ctx, frame, view)
}

// Detect processes a frame without consulting the throttle. The frame is
// released on every path.
func (p *Pipeline) Detect(ctx context.Context, frame *images.Frame, view postprocess.View) (Result, error) {
	if frame == nil {
		return Result{}, errors.Wrap(images.ErrInvalidFrame, "nil frame")
	}
	defer frame.Close()

	return p.run(ctx, frame, view)
}

// DetectImage processes a decoded, upright image.
func (p *Pipeline) DetectImage(ctx context.Context, img image.Image, view postprocess.View) (Result, error) {
	if img == nil {
		return Result{}, errors.Wrap(images.ErrInvalidFrame, "nil image")
	}
	return p.Detect(ctx, images.FromImage(img), view)
}

func (p *Pipeline) run(ctx context.Context, frame *images.Frame, view postprocess.View) (Result, error) {
	start := p.clock.Now()
	res := Result{Timestamp: frame.Timestamp}

	done := p.profiler.StartOperation("preprocess")
	in, err := p.preprocessor.ToTensor(frame, frame.Rotation)
	done()
	if err != nil {
		return res, err
	}

	sc, err := postprocess.NewScaleContext(p.model.InputWidth, p.model.InputHeight, in.OriginalWidth, in.OriginalHeight, view)
	if err != nil {
		return res, err
	}
	res.Scale = sc

	if err := ctx.Err(); err != nil {
		return res, err
	}

	done = p.profiler.StartOperation("inference")
	raw, err := p.engine.Forward(ctx, in.Tensor)
	done()
	if err != nil {
		return res, err
	}

	done = p.profiler.StartOperation("decode")
	dets, err := p.decoder.Decode(raw, sc, p.model.ConfidenceThreshold, p.model.IoUThreshold)
	done()
	if err != nil {
		return res, err
	}

	res.Detections = dets
	res.Elapsed = p.clock.Since(start)
	p.profiler.RecordMetric("detections", float64(len(dets)))

	p.logger.Debug("frame analyzed",
		zap.Int("detections", len(dets)),
		zap.Int("source_width", in.OriginalWidth),
		zap.Int("source_height", in.OriginalHeight),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}
