// Package inference - Inference sessions.
package inference

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-detect/models/model"
)

// Session represents a model session from the onnxruntime with its
// preallocated input and output tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// Close releases the native resources associated with the Session.
//
// Returns:
//   - error: Every destroy error, combined.
func (s *Session) Close() error {
	var err error
	if s.Session != nil {
		err = multierr.Append(err, s.Session.Destroy())
		s.Session = nil
	}
	if s.Input != nil {
		err = multierr.Append(err, s.Input.Destroy())
		s.Input = nil
	}
	if s.Output != nil {
		err = multierr.Append(err, s.Output.Destroy())
		s.Output = nil
	}
	return err
}

// InputShape returns the model input shape for the configured channel order.
func InputShape(m model.Config) ort.Shape {
	if m.ChannelOrder == model.ChannelOrderHWC {
		return ort.NewShape(1, int64(m.InputHeight), int64(m.InputWidth), 3)
	}
	return ort.NewShape(1, 3, int64(m.InputHeight), int64(m.InputWidth))
}

// OutputShape returns [1, anchors, 5 + classes].
func OutputShape(m model.Config) ort.Shape {
	return ort.NewShape(1, int64(m.NumAnchors), int64(5+m.NumClasses()))
}

// NewSession creates a new ONNX Runtime session with preallocated tensors.
//
// Order of operations:
//  1. Tensor allocation: fixed-shape buffers for the input and output.
//  2. Session options: threading, graph optimization level and execution provider.
//  3. Session creation: loads the model and binds the tensors.
//
// The runtime environment must already be initialized.
//
// Arguments:
//   - cfg: Runtime settings.
//   - m: The model constants (path, node names and shapes).
//
// Returns:
//   - *Session: The session. The caller owns it and must Close it.
//   - error: Any allocation or load error.
func NewSession(cfg Config, m model.Config) (*Session, error) {
	s := &Session{}

	input, err := ort.NewEmptyTensor[float32](InputShape(m))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	s.Input = input

	output, err := ort.NewEmptyTensor[float32](OutputShape(m))
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error creating output tensor"), s.Close())
	}
	s.Output = output

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error creating ORT session options"), s.Close())
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error setting intra-op threads"), s.Close())
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error setting inter-op threads"), s.Close())
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error setting graph optimization level"), s.Close())
	}
	if err := appendProvider(options, cfg.Provider); err != nil {
		return nil, multierr.Append(err, s.Close())
	}

	session, err := ort.NewAdvancedSession(
		m.Path,
		[]string{m.InputName},
		[]string{m.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "error creating ORT session for %s", m.Path), s.Close())
	}
	s.Session = session

	return s, nil
}
