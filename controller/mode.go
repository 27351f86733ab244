package controller

import (
	"context"
	"sync"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Mode is one way of running the pipeline: analyze a frame, then hand the
// result to whoever displays it.
type Mode interface {
	// Analyze takes ownership of frame and releases it on every path.
	Analyze(ctx context.Context, frame *images.Frame) (Result, error)
	// Present publishes a successful result.
	Present(result Result)
}

// ResultSink receives detections for display. OnDetections may be called with
// an empty slice, which means "nothing detected".
type ResultSink interface {
	OnDetections(detections []postprocess.Detection)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(detections []postprocess.Detection)

// OnDetections calls f.
func (f ResultSinkFunc) OnDetections(detections []postprocess.Detection) {
	f(detections)
}

// Dispatcher runs presentation work on the goroutine that owns the display.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

// Inline runs presentation work on the calling goroutine.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// LiveMode analyzes throttled camera frames and presents every admitted
// result, including empty ones so stale boxes are cleared.
type LiveMode struct {
	pipeline   *Pipeline
	sink       ResultSink
	dispatcher Dispatcher

	mu   sync.RWMutex
	view postprocess.View
}

// NewLiveMode returns a live mode presenting through dispatcher. A nil
// dispatcher presents inline.
func NewLiveMode(pipeline *Pipeline, sink ResultSink, dispatcher Dispatcher, view postprocess.View) *LiveMode {
	if dispatcher == nil {
		dispatcher = Inline
	}
	return &LiveMode{pipeline: pipeline, sink: sink, dispatcher: dispatcher, view: view}
}

// SetView changes the display surface for subsequent frames.
func (m *LiveMode) SetView(view postprocess.View) {
	m.mu.Lock()
	m.view = view
	m.mu.Unlock()
}

// View returns the current display surface.
func (m *LiveMode) View() postprocess.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// Analyze implements Mode.
func (m *LiveMode) Analyze(ctx context.Context, frame *images.Frame) (Result, error) {
	return m.pipeline.Analyze(ctx, frame, m.View())
}

// Present implements Mode. Throttled results are not presented.
func (m *LiveMode) Present(result Result) {
	if result.Throttled {
		return
	}
	present(m.sink, m.dispatcher, result)
}

// StillMode analyzes single images without throttling.
type StillMode struct {
	pipeline   *Pipeline
	sink       ResultSink
	dispatcher Dispatcher
	view       postprocess.View
}

// NewStillMode returns a still mode presenting through dispatcher. A nil
// dispatcher presents inline.
func NewStillMode(pipeline *Pipeline, sink ResultSink, dispatcher Dispatcher, view postprocess.View) *StillMode {
	if dispatcher == nil {
		dispatcher = Inline
	}
	return &StillMode{pipeline: pipeline, sink: sink, dispatcher: dispatcher, view: view}
}

// Analyze implements Mode.
func (m *StillMode) Analyze(ctx context.Context, frame *images.Frame) (Result, error) {
	return m.pipeline.Detect(ctx, frame, m.view)
}

// Present implements Mode.
func (m *StillMode) Present(result Result) {
	present(m.sink, m.dispatcher, result)
}

// present hands the sink its own copy of the detections.
func present(sink ResultSink, dispatcher Dispatcher, result Result) {
	if sink == nil {
		return
	}
	dets := append([]postprocess.Detection{}, result.Detections...)
	dispatcher.Dispatch(func() {
		sink.OnDetections(dets)
	})
}
