package controller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// ErrSessionRunning is returned when Run is called on a session that is
// already running or has finished.
var ErrSessionRunning = errors.New("live session already started")

// LiveStats are the session counters.
type LiveStats struct {
	Submitted uint64
	Dropped   uint64
	Throttled uint64
	Analyzed  uint64
	Failed    uint64
}

// LiveSession feeds camera frames to a Mode through a single slot.
//
// Submit never blocks: when the worker is still busy with an earlier frame the
// pending one is replaced by the newest and released. One worker, started with
// Run, analyzes and presents frames in arrival order.
type LiveSession struct {
	id     string
	mode   Mode
	logger *zap.Logger

	slot     chan *images.Frame
	submitMu sync.Mutex
	closed   atomic.Bool
	started  atomic.Bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	throttled atomic.Uint64
	analyzed  atomic.Uint64
	failed    atomic.Uint64

	seq uint64
}

// NewLiveSession creates a session around mode.
func NewLiveSession(mode Mode, logger *zap.Logger) *LiveSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &LiveSession{
		id:     id,
		mode:   mode,
		logger: logger.Named("live").With(zap.String("session_id", id)),
		slot:   make(chan *images.Frame, 1),
	}
}

// ID returns the session identifier used in logs.
func (s *LiveSession) ID() string {
	return s.id
}

// Submit offers a frame to the worker and reports whether it was queued.
//
// The session owns the frame from here on. A frame still waiting in the slot
// is released and counted as dropped. After the session has stopped, frames
// are released immediately and false is returned.
func (s *LiveSession) Submit(frame *images.Frame) bool {
	if frame == nil {
		return false
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.closed.Load() {
		frame.Close()
		return false
	}
	s.submitted.Inc()

	for {
		select {
		case s.slot <- frame:
			return true
		default:
		}

		// Slot is full; evict the stale frame. The worker may win the race,
		// in which case the next send succeeds.
		select {
		case stale := <-s.slot:
			stale.Close()
			s.dropped.Inc()
		default:
		}
	}
}

// Run processes frames until ctx is done or the model cannot be loaded.
//
// Returns:
//   - nil when ctx is cancelled.
//   - inference.ErrModelLoad (wrapped) when the engine failed to load.
//   - ErrSessionRunning if Run was already called.
func (s *LiveSession) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.shutdown()

	s.logger.Info("live session started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("live session stopped", s.statsFields()...)
			return nil
		case frame := <-s.slot:
			if err := s.process(ctx, frame); err != nil {
				s.logger.Error("live session aborted", append(s.statsFields(), zap.Error(err))...)
				return err
			}
		}
	}
}

// process analyzes one frame. Only fatal errors are returned.
func (s *LiveSession) process(ctx context.Context, frame *images.Frame) error {
	s.seq++
	seq := s.seq

	result, err := s.mode.Analyze(ctx, frame)
	switch {
	case err == nil:
	case errors.Is(err, inference.ErrModelLoad):
		s.failed.Inc()
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, images.ErrInvalidFrame):
		s.failed.Inc()
		s.logger.Warn("frame skipped", zap.Uint64("frame_seq", seq), zap.Error(err))
		return nil
	case errors.Is(err, postprocess.ErrMalformedModelOutput):
		s.failed.Inc()
		s.logger.Error("malformed model output", zap.Uint64("frame_seq", seq), zap.Error(err))
		return nil
	default:
		s.failed.Inc()
		s.logger.Error("frame analysis failed", zap.Uint64("frame_seq", seq), zap.Error(err))
		return nil
	}

	if result.Throttled {
		s.throttled.Inc()
		return nil
	}

	s.analyzed.Inc()
	s.mode.Present(result)
	return nil
}

// shutdown refuses new frames and releases the one left in the slot.
func (s *LiveSession) shutdown() {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.closed.Store(true)
	select {
	case frame := <-s.slot:
		frame.Close()
		s.dropped.Inc()
	default:
	}
}

// Stats returns a snapshot of the counters.
func (s *LiveSession) Stats() LiveStats {
	return LiveStats{
		Submitted: s.submitted.Load(),
		Dropped:   s.dropped.Load(),
		Throttled: s.throttled.Load(),
		Analyzed:  s.analyzed.Load(),
		Failed:    s.failed.Load(),
	}
}

// CollectMetrics implements profiler.MetricsCollector.
func (s *LiveSession) CollectMetrics() map[string]float64 {
	st := s.Stats()
	return map[string]float64{
		"live_frames_submitted": float64(st.Submitted),
		"live_frames_dropped":   float64(st.Dropped),
		"live_frames_throttled": float64(st.Throttled),
		"live_frames_analyzed":  float64(st.Analyzed),
		"live_frames_failed":    float64(st.Failed),
	}
}

func (s *LiveSession) statsFields() []zap.Field {
	st := s.Stats()
	return []zap.Field{
		zap.Uint64("submitted", st.Submitted),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("throttled", st.Throttled),
		zap.Uint64("analyzed", st.Analyzed),
		zap.Uint64("failed", st.Failed),
	}
}
