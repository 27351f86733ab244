package controller

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/model/preprocess"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
)

// countingEngine returns out for every call and counts the calls.
type countingEngine struct {
	out   []float32
	err   error
	calls int
	last  *preprocess.Tensor
}

func (e *countingEngine) Forward(_ context.Context, in *preprocess.Tensor) ([]float32, error) {
	e.calls++
	e.last = in
	return e.out, e.err
}

func (e *countingEngine) Close() error { return nil }

func newTestPipeline(t *testing.T, engine inference.Engine, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	p, err := NewPipeline(testModel(), engine, DefaultConfig(), opts...)
	require.NoError(t, err)
	return p
}

// TestPipeline_Detect verifies a frame flows through every stage and boxes
// come back in source pixels.
func TestPipeline_Detect(t *testing.T) {
	engine := &countingEngine{out: personRow()}
	p := newTestPipeline(t, engine)

	frame, rc := grayFrame(16, 16)
	res, err := p.Detect(context.Background(), frame, postprocess.View{})
	require.NoError(t, err)

	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, []int{1, 3, 8, 8}, []int(engine.last.Shape()))
	assert.Equal(t, 1, rc.count())
	assert.False(t, res.Throttled)

	require.Len(t, res.Detections, 1)
	det := res.Detections[0]
	assert.Equal(t, 0, det.ClassID)
	assert.InDelta(t, 0.81, det.Score, 1e-6)
	assert.Equal(t, images.Rect{X1: 6, Y1: 6, X2: 10, Y2: 10}, det.Box)
	assert.Equal(t, float32(2), res.Scale.ImgScaleX)
}

// TestPipeline_AnalyzeThrottle verifies frames inside the interval are
// rejected without reaching the engine, and are still released.
func TestPipeline_AnalyzeThrottle(t *testing.T) {
	mock := clock.NewMock()
	engine := &countingEngine{out: personRow()}
	p := newTestPipeline(t, engine, WithClock(mock))
	ctx := context.Background()

	steps := []struct {
		advance   time.Duration
		throttled bool
	}{
		{0, false},
		{0, true},
		{9 * time.Millisecond, true},
		{1 * time.Millisecond, false},
		{10 * time.Millisecond, false},
	}

	admitted := 0
	for i, step := range steps {
		mock.Add(step.advance)
		frame, rc := grayFrame(8, 8)

		res, err := p.Analyze(ctx, frame, postprocess.View{})
		require.NoError(t, err)
		assert.Equal(t, step.throttled, res.Throttled, "step %d", i)
		assert.Equal(t, 1, rc.count(), "step %d frame not released", i)
		if !step.throttled {
			admitted++
			assert.Len(t, res.Detections, 1)
		} else {
			assert.Empty(t, res.Detections)
		}
	}
	assert.Equal(t, admitted, engine.calls)
}

func TestPipeline_Errors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	badFrame := func() *images.Frame {
		return images.NewFrame(0, 8, images.FormatRGBA, nil, nil)
	}
	goodFrame := func() *images.Frame {
		f, _ := grayFrame(8, 8)
		return f
	}

	tests := []struct {
		name      string
		ctx       context.Context
		frame     func() *images.Frame
		engine    *countingEngine
		want      error
		wantCalls int
	}{
		{
			name:   "invalid frame",
			ctx:    context.Background(),
			frame:  badFrame,
			engine: &countingEngine{out: personRow()},
			want:   images.ErrInvalidFrame,
		},
		{
			name:      "engine failure",
			ctx:       context.Background(),
			frame:     goodFrame,
			engine:    &countingEngine{err: errors.Wrap(inference.ErrInferenceFailure, "boom")},
			want:      inference.ErrInferenceFailure,
			wantCalls: 1,
		},
		{
			name:      "model load failure",
			ctx:       context.Background(),
			frame:     goodFrame,
			engine:    &countingEngine{err: errors.Wrap(inference.ErrModelLoad, "no such file")},
			want:      inference.ErrModelLoad,
			wantCalls: 1,
		},
		{
			name:      "short output",
			ctx:       context.Background(),
			frame:     goodFrame,
			engine:    &countingEngine{out: personRow()[:6]},
			want:      postprocess.ErrMalformedModelOutput,
			wantCalls: 1,
		},
		{
			name:   "cancelled before inference",
			ctx:    cancelled,
			frame:  goodFrame,
			engine: &countingEngine{out: personRow()},
			want:   context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.engine)
			frame := tt.frame()

			res, err := p.Detect(tt.ctx, frame, postprocess.View{})
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, res.Detections)
			assert.Equal(t, tt.wantCalls, tt.engine.calls)
			assert.True(t, frame.Closed())
		})
	}
}

// TestPipeline_RotationAndView verifies the scale context is built from the
// rotated size and the requested view.
func TestPipeline_RotationAndView(t *testing.T) {
	p := newTestPipeline(t, &countingEngine{out: personRow()})

	frame, _ := grayFrame(16, 8)
	frame.Rotation = 90

	view := postprocess.View{Width: 16, Height: 16, Policy: postprocess.ViewAspectFit}
	res, err := p.Detect(context.Background(), frame, view)
	require.NoError(t, err)

	assert.Equal(t, 8, res.Scale.SrcWidth)
	assert.Equal(t, 16, res.Scale.SrcHeight)
	assert.Equal(t, float32(1), res.Scale.ViewScaleX)
	assert.Equal(t, float32(4), res.Scale.ViewOffsetX)
	assert.Equal(t, float32(0), res.Scale.ViewOffsetY)

	// Model box (3,3)-(5,5) -> source (3,6)-(5,10) -> view x+4.
	require.Len(t, res.Detections, 1)
	assert.Equal(t, images.Rect{X1: 7, Y1: 6, X2: 9, Y2: 10}, res.Detections[0].Box)
}

func TestPipeline_DetectImage(t *testing.T) {
	p := newTestPipeline(t, &countingEngine{out: personRow()})

	frame, _ := grayFrame(8, 8)
	img, err := frame.ToImage()
	require.NoError(t, err)

	res, err := p.DetectImage(context.Background(), img, postprocess.View{})
	require.NoError(t, err)
	assert.Len(t, res.Detections, 1)

	_, err = p.DetectImage(context.Background(), nil, postprocess.View{})
	assert.ErrorIs(t, err, images.ErrInvalidFrame)
}

func TestPipeline_Profiler(t *testing.T) {
	mock := clock.NewMock()
	rp := profiler.NewRuntimeProfiler(profiler.Options{Clock: mock})
	p := newTestPipeline(t, &countingEngine{out: personRow()}, WithClock(mock), WithProfiler(rp))

	frame, _ := grayFrame(8, 8)
	_, err := p.Analyze(context.Background(), frame, postprocess.View{})
	require.NoError(t, err)

	snap := rp.Snapshot()
	for _, op := range []string{"preprocess", "inference", "decode"} {
		assert.Equal(t, int64(1), snap.Operations[op].Count, op)
	}
	assert.Equal(t, float64(1), snap.Metrics["detections"].Last)
}

func TestNewPipeline_Invalid(t *testing.T) {
	_, err := NewPipeline(testModel(), nil, DefaultConfig())
	assert.Error(t, err)

	m := testModel()
	m.Labels = nil
	_, err = NewPipeline(m, &countingEngine{}, DefaultConfig())
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}
