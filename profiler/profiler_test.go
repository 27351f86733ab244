package profiler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingCollector struct {
	calls atomic.Int64
}

func (c *countingCollector) CollectMetrics() map[string]float64 {
	n := c.calls.Add(1)
	return map[string]float64{"frames_dropped": float64(n * 10)}
}

// TestStartOperation verifies timings are measured with the injected clock.
func TestStartOperation(t *testing.T) {
	mock := clock.NewMock()
	rp := NewRuntimeProfiler(Options{Clock: mock})

	for _, d := range []time.Duration{5 * time.Millisecond, 15 * time.Millisecond} {
		done := rp.StartOperation("inference")
		mock.Add(d)
		done()
	}

	op := rp.Snapshot().Operations["inference"]
	assert.Equal(t, int64(2), op.Count)
	assert.Equal(t, 10*time.Millisecond, op.Avg)
	assert.Equal(t, 5*time.Millisecond, op.Min)
	assert.Equal(t, 15*time.Millisecond, op.Max)
}

// TestRecordMetric_SlidingWindow verifies the average only covers the last MaxSamples values.
func TestRecordMetric_SlidingWindow(t *testing.T) {
	rp := NewRuntimeProfiler(Options{MaxSamples: 3, Clock: clock.NewMock()})

	for _, v := range []float64{100, 1, 2, 3} {
		rp.RecordMetric("detections", v)
	}

	m := rp.Snapshot().Metrics["detections"]
	assert.Equal(t, int64(4), m.Count)
	assert.Equal(t, float64(3), m.Last)
	assert.InDelta(t, 2.0, m.Avg, 1e-9)
	assert.Equal(t, float64(1), m.Min)
	assert.Equal(t, float64(100), m.Max)
}

// TestReportLoop verifies collectors are polled and reports logged on every tick.
func TestReportLoop(t *testing.T) {
	mock := clock.NewMock()
	core, logs := observer.New(zap.InfoLevel)
	collector := &countingCollector{}

	rp := NewRuntimeProfiler(Options{ReportInterval: time.Second, Clock: mock, Logger: zap.New(core)})
	rp.AddMetricsCollector(collector)
	rp.Start()
	rp.Start()
	defer rp.Stop()

	mock.Add(time.Second)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("runtime status").Len() >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), collector.calls.Load())
	assert.Equal(t, float64(10), rp.Snapshot().Metrics["frames_dropped"].Last)
	assert.GreaterOrEqual(t, logs.FilterMessage("metric").Len(), 1)
}

func TestStopWithoutStart(t *testing.T) {
	rp := NewRuntimeProfiler(Options{})
	rp.Stop()
}

// TestNilProfiler verifies the disabled profiler is safe to use.
func TestNilProfiler(t *testing.T) {
	var rp *RuntimeProfiler

	rp.Start()
	rp.AddMetricsCollector(&countingCollector{})
	rp.RecordMetric("x", 1)
	rp.RecordOperation("y", time.Millisecond)
	rp.StartOperation("z")()
	rp.Stop()

	assert.Empty(t, rp.Snapshot().Operations)
}
