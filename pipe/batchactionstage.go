package pipe

import (
	"context"
	"errors"

	"github.com/tailored-agentic-units/pipeline/config"
	"github.com/tailored-agentic-units/pipeline/envelope"
)

// BatchActionStage layers an ActionStage over a BatchStage: accumulation
// stays serialized in the batching worker, while emitted batches flow into
// an inner worker pool for concurrent per-batch processing. Use it when the
// per-batch work, not the batching, is the bottleneck.
//
// Metrics reflect the accumulation stage: InputCount counts envelopes
// accepted by Send, OutputCount counts envelopes folded into the buffer.
type BatchActionStage[T any] struct {
	batcher *BatchStage[T]
	inner   *ActionStage[T]
}

// NewBatchActionStage builds the inner pool first, then the batching stage
// whose flushes forward each batch envelope into the pool. The action
// receives one batch envelope per flush; the optional done hook runs after
// each processed batch.
func NewBatchActionStage[T any](
	ctx context.Context,
	cfg config.BatchActionConfig,
	action Action[T],
	done Action[T],
) (*BatchActionStage[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inner, err := NewActionStage(ctx, config.ActionConfig{
		Name:        cfg.Name + "-pool",
		Capacity:    cfg.Parallelism,
		Parallelism: cfg.Parallelism,
		Observer:    cfg.Observer,
	}, action, done)
	if err != nil {
		return nil, err
	}

	batcher, err := NewBatchStage(ctx, config.BatchConfig{
		Name:      cfg.Name,
		Capacity:  cfg.Capacity,
		BatchSize: cfg.BatchSize,
		Observer:  cfg.Observer,
	}, func(ctx context.Context, batch []T) error {
		if err := inner.Send(ctx, envelope.Batch(batch)); err != nil && !errors.Is(err, ErrStageCancelled) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchActionStage[T]{batcher: batcher, inner: inner}, nil
}

// Send enqueues an envelope into the accumulation stage.
func (s *BatchActionStage[T]) Send(ctx context.Context, env *envelope.Envelope[T]) error {
	return s.batcher.Send(ctx, env)
}

// SendItem wraps a single value in an envelope and sends it.
func (s *BatchActionStage[T]) SendItem(ctx context.Context, item T) error {
	return s.batcher.SendItem(ctx, item)
}

// SendItems wraps a slice in a batch envelope and sends it.
func (s *BatchActionStage[T]) SendItems(ctx context.Context, items []T) error {
	return s.batcher.SendItems(ctx, items)
}

// Complete drains the accumulation stage (including the residual flush),
// then the inner pool. The first fault from either stage is returned.
func (s *BatchActionStage[T]) Complete(ctx context.Context) error {
	batchErr := s.batcher.Complete(ctx)
	innerErr := s.inner.Complete(ctx)
	if batchErr != nil {
		return batchErr
	}
	return innerErr
}

// Metrics returns a snapshot of the accumulation stage's counters.
func (s *BatchActionStage[T]) Metrics() MetricsSnapshot {
	return s.batcher.Metrics()
}

func (s *BatchActionStage[T]) InputCount() int64 {
	return s.batcher.InputCount()
}

func (s *BatchActionStage[T]) OutputCount() int64 {
	return s.batcher.OutputCount()
}

func (s *BatchActionStage[T]) WorkingCount() int64 {
	return s.batcher.WorkingCount()
}
