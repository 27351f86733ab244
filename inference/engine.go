// Package inference - Inference engine interface and implementations.
package inference

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/model/preprocess"
)

var (
	// ErrModelLoad is returned when the model artifact cannot be loaded. It is
	// fatal for the session that hit it.
	ErrModelLoad = errors.New("model load failed")
	// ErrInferenceFailure is returned when a forward pass fails at runtime.
	ErrInferenceFailure = errors.New("inference failed")
)

// Engine runs a model forward pass. Implementations are opaque to the
// pipeline: a tensor goes in, a flat float32 output comes out.
//
// The context is only consulted before the pass starts; a running pass is not
// cancelled.
type Engine interface {
	Forward(ctx context.Context, input *preprocess.Tensor) ([]float32, error)
	Close() error
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, input *preprocess.Tensor) ([]float32, error)

// Forward calls f.
func (f EngineFunc) Forward(ctx context.Context, input *preprocess.Tensor) ([]float32, error) {
	return f(ctx, input)
}

// Close is a no-op.
func (f EngineFunc) Close() error {
	return nil
}
