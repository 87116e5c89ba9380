package pipe

import "sync/atomic"

// MetricsSnapshot is a point-in-time view of a stage's counters.
//
// At quiescent points (no Send in progress, workers idle or exited) the
// counters satisfy WorkingCount == InputCount - OutputCount - queueDepth.
// After a clean Complete, InputCount == OutputCount and WorkingCount == 0.
type MetricsSnapshot struct {
	// InputCount is the number of envelopes accepted by Send
	InputCount int64

	// WorkingCount is the number of envelopes dequeued whose action has not
	// yet returned
	WorkingCount int64

	// OutputCount is the number of envelopes fully processed (action and,
	// unless cancelled, done hook)
	OutputCount int64
}

// Metrics tracks a stage's input/working/output counters with atomics.
type Metrics struct {
	input   atomic.Int64
	working atomic.Int64
	output  atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordInput(delta int) {
	m.input.Add(int64(delta))
}

func (m *Metrics) RecordWorking(delta int) {
	m.working.Add(int64(delta))
}

func (m *Metrics) RecordOutput(delta int) {
	m.output.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		InputCount:   m.input.Load(),
		WorkingCount: m.working.Load(),
		OutputCount:  m.output.Load(),
	}
}
