package observer

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultLatencyWindow is how many processing times are kept for statistics
const DefaultLatencyWindow = 256

// Metrics is a snapshot of capture counters and processing-time statistics
type Metrics struct {
	Succeeded    int64 `json:"succeeded"`
	Duplicates   int64 `json:"duplicates"`
	Failed       int64 `json:"failed"`
	StateChanges int64 `json:"state_changes"`

	// Failures by error type
	FailuresByType map[string]int64 `json:"failures_by_type"`

	// Milliseconds, over the most recent attempts
	Samples  int     `json:"samples"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	P95Ms    float64 `json:"p95_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// MetricsObserver collects metrics from capture events
type MetricsObserver struct {
	mu           sync.RWMutex
	succeeded    int64
	duplicates   int64
	failed       int64
	stateChanges int64
	failures     map[string]int64

	window  int
	latency []float64
	next    int
}

// NewMetricsObserver creates a metrics observer keeping the last window
// processing times; window <= 0 uses DefaultLatencyWindow.
func NewMetricsObserver(window int) *MetricsObserver {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &MetricsObserver{
		window:   window,
		failures: make(map[string]int64),
		latency:  make([]float64, 0, window),
	}
}

// OnEvent handles capture events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event CaptureEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case CaptureSucceeded:
		o.succeeded++
	case CaptureDuplicate:
		o.duplicates++
	case CaptureFailed:
		o.failed++
		key := event.ErrorType
		if key == "" {
			key = "unknown"
		}
		o.failures[key]++
	case StateChanged:
		o.stateChanges++
		return
	default:
		return
	}
	o.record(event.ProcessingTime)
}

func (o *MetricsObserver) record(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if len(o.latency) < o.window {
		o.latency = append(o.latency, ms)
		return
	}
	o.latency[o.next] = ms
	o.next = (o.next + 1) % o.window
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() Metrics {
	o.mu.RLock()
	m := Metrics{
		Succeeded:      o.succeeded,
		Duplicates:     o.duplicates,
		Failed:         o.failed,
		StateChanges:   o.stateChanges,
		FailuresByType: make(map[string]int64, len(o.failures)),
		Samples:        len(o.latency),
	}
	for k, v := range o.failures {
		m.FailuresByType[k] = v
	}
	samples := append([]float64(nil), o.latency...)
	o.mu.RUnlock()

	if len(samples) == 0 {
		return m
	}
	sort.Float64s(samples)
	m.MeanMs = stat.Mean(samples, nil)
	if len(samples) > 1 {
		m.StdDevMs = stat.StdDev(samples, nil)
	}
	m.P95Ms = stat.Quantile(0.95, stat.Empirical, samples, nil)
	m.MaxMs = samples[len(samples)-1]
	return m
}
