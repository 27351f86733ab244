package controller

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// TestStillSession_Busy verifies a second trigger is refused until the first
// completion callback has returned.
func TestStillSession_Busy(t *testing.T) {
	unblock := make(chan struct{})
	mode := &fakeMode{analyze: func(context.Context, *images.Frame) (Result, error) {
		<-unblock
		return Result{Detections: []postprocess.Detection{{ClassID: 1, Score: 0.7}}}, nil
	}}
	s := NewStillSession(mode, zaptest.NewLogger(t))

	done := make(chan Result, 1)
	first, _ := grayFrame(2, 2)
	require.NoError(t, s.Trigger(context.Background(), first, func(r Result, err error) {
		assert.NoError(t, err)
		done <- r
	}))
	assert.True(t, s.Busy())

	second, rc := grayFrame(2, 2)
	assert.ErrorIs(t, s.Trigger(context.Background(), second, nil), ErrBusy)
	assert.Equal(t, 1, rc.count(), "refused frame must be released")

	close(unblock)
	select {
	case r := <-done:
		assert.Len(t, r.Detections, 1)
	case <-time.After(waitFor):
		t.Fatal("completion callback not called")
	}
	s.Wait()

	assert.False(t, s.Busy())
	assert.Equal(t, 1, mode.presentedCount())
	assert.True(t, first.Closed())

	third, _ := grayFrame(2, 2)
	require.NoError(t, s.Trigger(context.Background(), third, nil))
	s.Wait()
}

// TestStillSession_Error verifies failures reach the callback and are not
// presented.
func TestStillSession_Error(t *testing.T) {
	mode := &fakeMode{analyze: func(context.Context, *images.Frame) (Result, error) {
		return Result{}, errors.Wrap(inference.ErrInferenceFailure, "run")
	}}
	s := NewStillSession(mode, nil)

	var got error
	f, _ := grayFrame(2, 2)
	require.NoError(t, s.Trigger(context.Background(), f, func(_ Result, err error) { got = err }))
	s.Wait()

	assert.ErrorIs(t, got, inference.ErrInferenceFailure)
	assert.Zero(t, mode.presentedCount())
	assert.False(t, s.Busy())
}
