package pipe

import (
	"context"

	"github.com/tailored-agentic-units/pipeline/envelope"
)

// Stage is the common surface of every pipeline stage: envelope ingress,
// deterministic completion, and metric getters.
//
// Send blocks while the stage's bounded queue is full and fails with
// ErrStageClosed once Complete has started. Complete drains the stage to
// quiescence and is idempotent; repeated calls return the first result
// without draining again.
type Stage[T any] interface {
	// Send enqueues an envelope, blocking while the queue is full.
	Send(ctx context.Context, env *envelope.Envelope[T]) error

	// SendItem wraps a single value in an envelope and sends it.
	SendItem(ctx context.Context, item T) error

	// SendItems wraps a slice in a batch envelope and sends it.
	SendItems(ctx context.Context, items []T) error

	// Complete closes the stage to new envelopes, waits for every envelope
	// accepted before the call to finish processing, and returns the first
	// worker fault, if any. The ctx bounds only the wait, not the draining.
	Complete(ctx context.Context) error

	// Metrics returns a snapshot of the stage's counters.
	Metrics() MetricsSnapshot

	// InputCount is the number of envelopes accepted by Send.
	InputCount() int64

	// OutputCount is the number of envelopes fully processed.
	OutputCount() int64

	// WorkingCount is the number of envelopes currently in an action.
	WorkingCount() int64
}

var (
	_ Stage[any] = (*ActionStage[any])(nil)
	_ Stage[any] = (*BatchStage[any])(nil)
	_ Stage[any] = (*BatchActionStage[any])(nil)
	_ Stage[any] = (*ParallelStage[any])(nil)
)
