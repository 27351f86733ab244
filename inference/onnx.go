package inference

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/model/preprocess"
)

// ONNXEngine runs a detection model with ONNX Runtime.
//
// The model is loaded on the first Forward, not at construction. A load
// failure is remembered and returned by every later call without retrying.
type ONNXEngine struct {
	cfg    Config
	model  model.Config
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
	loadErr error
	closed  bool
}

// NewONNXEngine creates an engine. Nothing is loaded yet.
//
// Arguments:
//   - cfg: Runtime settings.
//   - m: The model constants.
//   - logger: Logger for load events. nil disables logging.
//
// Returns:
//   - *ONNXEngine: The engine.
func NewONNXEngine(cfg Config, m model.Config, logger *zap.Logger) *ONNXEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ONNXEngine{
		cfg:    cfg,
		model:  m,
		logger: logger.Named("onnx"),
	}
}

// Load loads the model if it is not loaded yet. Safe to call repeatedly.
//
// Returns:
//   - error: ErrModelLoad (wrapped) when the runtime or model cannot be loaded.
func (e *ONNXEngine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked()
}

func (e *ONNXEngine) loadLocked() error {
	if e.closed {
		return errors.Wrap(ErrModelLoad, "engine closed")
	}
	if e.session != nil {
		return nil
	}
	if e.loadErr != nil {
		return e.loadErr
	}

	libPath := e.cfg.GetSharedLibPath()
	if err := initEnvironment(libPath); err != nil {
		e.loadErr = errors.Wrap(ErrModelLoad, err.Error())
		return e.loadErr
	}

	session, err := NewSession(e.cfg, e.model)
	if err != nil {
		e.loadErr = errors.Wrap(ErrModelLoad, err.Error())
		return e.loadErr
	}
	e.session = session

	e.logger.Info("model loaded",
		zap.String("model", e.model.Name),
		zap.String("path", e.model.Path),
		zap.String("library", libPath),
		zap.Int64s("input_shape", InputShape(e.model)),
		zap.Int64s("output_shape", OutputShape(e.model)),
	)
	return nil
}

// Forward runs one pass. Calls are serialized.
//
// Arguments:
//   - ctx: Checked before the pass; a cancelled context aborts without running.
//   - input: The preprocessed tensor. Its size must match the model input.
//
// Returns:
//   - []float32: A copy of the raw output.
//   - error: ctx.Err(), ErrModelLoad or ErrInferenceFailure (wrapped).
func (e *ONNXEngine) Forward(ctx context.Context, input *preprocess.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadLocked(); err != nil {
		return nil, err
	}

	src := input.Float32s()
	dst := e.session.Input.GetData()
	if len(src) != len(dst) {
		return nil, errors.Wrapf(ErrInferenceFailure, "input has %d values, model expects %d", len(src), len(dst))
	}
	copy(dst, src)

	if err := e.session.Session.Run(); err != nil {
		return nil, errors.Wrap(ErrInferenceFailure, err.Error())
	}

	out := e.session.Output.GetData()
	return append(make([]float32, 0, len(out)), out...), nil
}

// Close releases the session. The engine cannot be used afterwards.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
