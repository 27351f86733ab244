package controller

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

const waitFor = 2 * time.Second

// startSession runs s in the background and returns a stop function that
// cancels it and yields Run's error.
func startSession(t *testing.T, s *LiveSession) (func() error, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(waitFor):
			t.Fatal("live session did not stop")
			return nil
		}
	}, errc
}

// TestLiveSession_KeepLatest verifies a frame waiting behind a busy worker is
// replaced by the newest one and released.
func TestLiveSession_KeepLatest(t *testing.T) {
	started := make(chan int, 4)
	unblock := make(chan struct{})

	mode := &fakeMode{analyze: func(_ context.Context, f *images.Frame) (Result, error) {
		started <- f.Width
		if f.Width == 1 {
			<-unblock
		}
		return Result{}, nil
	}}
	s := NewLiveSession(mode, zaptest.NewLogger(t))
	stop, _ := startSession(t, s)

	first, firstRC := grayFrame(1, 1)
	require.True(t, s.Submit(first))
	require.Equal(t, 1, <-started)

	stale, staleRC := grayFrame(2, 2)
	latest, latestRC := grayFrame(3, 3)
	require.True(t, s.Submit(stale))
	require.True(t, s.Submit(latest))

	assert.Equal(t, 1, staleRC.count(), "replaced frame must be released")
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	close(unblock)
	require.Equal(t, 3, <-started)
	require.Eventually(t, func() bool { return mode.presentedCount() == 2 }, waitFor, time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, 1, firstRC.count())
	assert.Equal(t, 1, latestRC.count())

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Submitted)
	assert.Equal(t, uint64(2), st.Analyzed)
}

// TestLiveSession_SkipsFrameErrors verifies per-frame failures are logged and
// the session keeps going.
func TestLiveSession_SkipsFrameErrors(t *testing.T) {
	errs := []error{
		errors.Wrap(images.ErrInvalidFrame, "bad stride"),
		errors.Wrap(postprocess.ErrMalformedModelOutput, "short"),
		errors.Wrap(inference.ErrInferenceFailure, "run"),
		nil,
	}
	next := make(chan error, len(errs))
	for _, err := range errs {
		next <- err
	}

	core, logs := observer.New(zap.DebugLevel)
	mode := &fakeMode{analyze: func(context.Context, *images.Frame) (Result, error) {
		return Result{}, <-next
	}}
	s := NewLiveSession(mode, zap.New(core))
	stop, _ := startSession(t, s)

	for i := range errs {
		f, _ := grayFrame(2, 2)
		require.True(t, s.Submit(f))
		require.Eventually(t, func() bool {
			st := s.Stats()
			return st.Failed+st.Analyzed == uint64(i+1)
		}, waitFor, time.Millisecond)
	}
	require.NoError(t, stop())

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Failed)
	assert.Equal(t, uint64(1), st.Analyzed)
	assert.Equal(t, 1, mode.presentedCount())

	assert.Equal(t, 1, logs.FilterMessage("frame skipped").FilterLevelExact(zap.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("malformed model output").FilterLevelExact(zap.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("frame analysis failed").Len())
	assert.Equal(t, 1, logs.FilterField(zap.Uint64("frame_seq", 2)).Len())
}

// TestLiveSession_ModelLoadIsFatal verifies Run stops on a load failure and
// later frames are released straight away.
func TestLiveSession_ModelLoadIsFatal(t *testing.T) {
	mode := &fakeMode{analyze: func(context.Context, *images.Frame) (Result, error) {
		return Result{}, errors.Wrap(inference.ErrModelLoad, "missing.onnx")
	}}
	s := NewLiveSession(mode, zaptest.NewLogger(t))
	_, errc := startSession(t, s)

	f, _ := grayFrame(2, 2)
	require.True(t, s.Submit(f))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, inference.ErrModelLoad)
	case <-time.After(waitFor):
		t.Fatal("session did not abort")
	}

	late, rc := grayFrame(2, 2)
	assert.False(t, s.Submit(late))
	assert.Equal(t, 1, rc.count())
	assert.Zero(t, mode.presentedCount())
}

func TestLiveSession_ThrottledNotPresented(t *testing.T) {
	mode := &fakeMode{analyze: func(context.Context, *images.Frame) (Result, error) {
		return Result{Throttled: true}, nil
	}}
	s := NewLiveSession(mode, zaptest.NewLogger(t))
	stop, _ := startSession(t, s)

	f, _ := grayFrame(2, 2)
	require.True(t, s.Submit(f))
	require.Eventually(t, func() bool { return s.Stats().Throttled == 1 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Zero(t, mode.presentedCount())
	assert.Equal(t, float64(1), s.CollectMetrics()["live_frames_throttled"])
}

// TestLiveSession_ShutdownReleasesPending verifies nothing leaks when the
// session stops with a frame in the slot.
func TestLiveSession_ShutdownReleasesPending(t *testing.T) {
	s := NewLiveSession(&fakeMode{}, nil)

	f, rc := grayFrame(2, 2)
	require.True(t, s.Submit(f))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, rc.count())

	assert.ErrorIs(t, s.Run(context.Background()), ErrSessionRunning)
	assert.False(t, s.Submit(nil))
	assert.NotEmpty(t, s.ID())
}
