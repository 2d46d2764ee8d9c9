package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder receives per-operation timings and per-sample event counts
// from the processor. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	// Observe records one timed operation and whether it succeeded.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// CountEvents records the retained and dropped event counts of one sample.
	CountEvents(ctx context.Context, sample string, retained, dropped int)
}

var _ MetricsRecorder = (*ExpvarMetricsRecorder)(nil)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and event counters via
// expvar, for deployments that prefer process-local metrics without external
// dependencies. Totals are kept in milliseconds per operation plus
// success/error counts, and retained/dropped event counts per sample.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	events    map[string]EventCounts
}

// EventCounts aggregates the per-sample event outcome.
type EventCounts struct {
	Retained int64 `json:"retained"`
	Dropped  int64 `json:"dropped"`
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Events      map[string]EventCounts      `json:"events_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder published
// under the supplied name. When name is empty a unique one is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("lhe_processor_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		events:    make(map[string]EventCounts),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] += float64(duration.Milliseconds())
	byStatus, ok := r.results[operation]
	if !ok {
		byStatus = make(map[string]int64, 2)
		r.results[operation] = byStatus
	}
	byStatus[status]++
}

// CountEvents implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) CountEvents(_ context.Context, sample string, retained, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := r.events[sample]
	counts.Retained += int64(retained)
	counts.Dropped += int64(dropped)
	r.events[sample] = counts
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	events := make(map[string]EventCounts, len(r.events))
	for sample, counts := range r.events {
		events[sample] = counts
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Events:      events,
		RecordedAt:  time.Now().UTC(),
	}
}
