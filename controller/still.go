package controller

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-detect/images"
)

// ErrBusy is returned by Trigger while a previous run has not completed.
var ErrBusy = errors.New("still analysis already in progress")

// DoneFunc receives the outcome of a still run. It is called on the worker
// goroutine; use a Dispatcher to get back to the display goroutine.
type DoneFunc func(result Result, err error)

// StillSession runs one analysis at a time in the background.
type StillSession struct {
	mode   Mode
	logger *zap.Logger

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewStillSession creates a session around mode.
func NewStillSession(mode Mode, logger *zap.Logger) *StillSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StillSession{mode: mode, logger: logger.Named("still")}
}

// Trigger starts analyzing frame in the background.
//
// On success the result is presented and then passed to done. Errors are not
// presented; they go to done only. The session stays busy until done has
// returned.
//
// Arguments:
//   - ctx: Passed to the mode.
//   - frame: The image to analyze. Released on every path, including ErrBusy.
//   - done: Optional completion callback.
//
// Returns:
//   - error: ErrBusy if a run is in flight.
func (s *StillSession) Trigger(ctx context.Context, frame *images.Frame, done DoneFunc) error {
	if !s.busy.CompareAndSwap(false, true) {
		if frame != nil {
			frame.Close()
		}
		return ErrBusy
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)

		result, err := s.mode.Analyze(ctx, frame)
		if err != nil {
			s.logger.Error("still analysis failed", zap.Error(err))
		} else {
			s.logger.Debug("still analysis finished",
				zap.Int("detections", len(result.Detections)),
				zap.Duration("elapsed", result.Elapsed),
			)
			s.mode.Present(result)
		}

		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

// Busy reports whether a run is in flight.
func (s *StillSession) Busy() bool {
	return s.busy.Load()
}

// Wait blocks until the in-flight run, if any, has completed.
func (s *StillSession) Wait() {
	s.wg.Wait()
}
