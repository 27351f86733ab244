// Package profiler - Stage timings, counters and periodic runtime reports.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
// Collectors are polled once per report.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks per-operation timings and custom metrics and logs a
// status report at a fixed interval.
//
// A nil *RuntimeProfiler is valid: every method is a no-op, so callers do not
// need to branch on whether profiling is enabled.
type RuntimeProfiler struct {
	reportInterval time.Duration
	maxSamples     int
	clock          clock.Clock
	logger         *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	memStats    runtime.MemStats
	lastGCCount uint32

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric over a sliding window.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// TimeTracker tracks operation timing statistics over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Options configures the runtime profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 10s).
	ReportInterval time.Duration `yaml:"report_interval"`
	// MaxSamples specifies the sliding window size per metric (default: 600).
	MaxSamples int `yaml:"max_samples"`
	// Clock drives the report ticker and operation timing. Defaults to the wall clock.
	Clock clock.Clock `yaml:"-"`
	// Logger receives the reports. Defaults to a no-op logger.
	Logger *zap.Logger `yaml:"-"`
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts Options) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		clock:          opts.Clock,
		logger:         opts.Logger.Named("profiler"),
		startTime:      opts.Clock.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins periodic reporting. Calling Start on a running profiler is a no-op.
func (rp *RuntimeProfiler) Start() {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel
	rp.running = true
	rp.startTime = rp.clock.Now()

	ticker := rp.clock.Ticker(rp.reportInterval)

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rp.collect()
				rp.emitStatusReport()
			}
		}
	}()
}

// Stop stops reporting and waits for the reporter to exit.
func (rp *RuntimeProfiler) Stop() {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a custom metrics collector.
//
// Arguments:
// - collector: An implementation of MetricsCollector interface
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{
			values: make([]float64, 0, rp.maxSamples),
			min:    value,
			max:    value,
		}
		rp.customMetrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > rp.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++

	if value < tracker.min {
		tracker.min = value
	}
	if value > tracker.max {
		tracker.max = value
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	if rp == nil {
		return func() {}
	}

	start := rp.clock.Now()
	return func() {
		rp.RecordOperation(name, rp.clock.Since(start))
	}
}

// RecordOperation records the duration of a completed operation.
func (rp *RuntimeProfiler) RecordOperation(name string, duration time.Duration) {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			minTime: duration,
			maxTime: duration,
		}
		rp.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > rp.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// collect polls registered collectors and samples memory statistics.
func (rp *RuntimeProfiler) collect() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	// Collectors may take their own locks; poll them unlocked.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordMetricLocked(name, value)
		}
	}
}

// emitStatusReport logs one line per metric and operation plus a runtime summary.
func (rp *RuntimeProfiler) emitStatusReport() {
	snap := rp.Snapshot()

	rp.mu.Lock()
	newGC := rp.memStats.NumGC - rp.lastGCCount
	rp.lastGCCount = rp.memStats.NumGC
	rp.mu.Unlock()

	rp.logger.Info("runtime status",
		zap.Duration("uptime", snap.Uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", snap.Goroutines),
		zap.Int64("cgo_calls", snap.CgoCalls),
		zap.Uint64("heap_alloc", snap.HeapAlloc),
		zap.Uint64("sys", snap.Sys),
		zap.Uint32("gc_cycles", snap.NumGC),
		zap.Uint32("gc_new", newGC),
	)

	for _, name := range sortedKeys(snap.Operations) {
		op := snap.Operations[name]
		rp.logger.Info("operation timing",
			zap.String("operation", name),
			zap.Duration("avg", op.Avg.Truncate(time.Microsecond)),
			zap.Duration("min", op.Min.Truncate(time.Microsecond)),
			zap.Duration("max", op.Max.Truncate(time.Microsecond)),
			zap.Int64("count", op.Count),
		)
	}

	for _, name := range sortedKeys(snap.Metrics) {
		m := snap.Metrics[name]
		rp.logger.Info("metric",
			zap.String("metric", name),
			zap.Float64("last", m.Last),
			zap.Float64("avg", m.Avg),
			zap.Float64("min", m.Min),
			zap.Float64("max", m.Max),
			zap.Int64("count", m.Count),
		)
	}
}

// MetricStat summarizes a custom metric.
type MetricStat struct {
	Last, Avg, Min, Max float64
	Count               int64
}

// OperationStat summarizes an operation's timings.
type OperationStat struct {
	Avg, Min, Max time.Duration
	Count         int64
}

// Snapshot is a point-in-time copy of the profiler state.
type Snapshot struct {
	Uptime     time.Duration
	Goroutines int
	CgoCalls   int64
	HeapAlloc  uint64
	Sys        uint64
	NumGC      uint32
	Metrics    map[string]MetricStat
	Operations map[string]OperationStat
}

// Snapshot returns the current statistics.
func (rp *RuntimeProfiler) Snapshot() Snapshot {
	if rp == nil {
		return Snapshot{}
	}

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	snap := Snapshot{
		Uptime:     rp.clock.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		CgoCalls:   runtime.NumCgoCall(),
		HeapAlloc:  rp.memStats.HeapAlloc,
		Sys:        rp.memStats.Sys,
		NumGC:      rp.memStats.NumGC,
		Metrics:    make(map[string]MetricStat, len(rp.customMetrics)),
		Operations: make(map[string]OperationStat, len(rp.operationTimes)),
	}

	for name, t := range rp.customMetrics {
		if len(t.values) == 0 {
			continue
		}
		snap.Metrics[name] = MetricStat{
			Last:  t.values[len(t.values)-1],
			Avg:   t.sum / float64(len(t.values)),
			Min:   t.min,
			Max:   t.max,
			Count: t.count,
		}
	}

	for name, t := range rp.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		snap.Operations[name] = OperationStat{
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
			Count: t.count,
		}
	}

	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
