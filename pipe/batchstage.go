package pipe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/pipeline/config"
	"github.com/tailored-agentic-units/pipeline/envelope"
	"github.com/tailored-agentic-units/pipeline/observability"
)

// FlushFunc receives each emitted batch. The callback owns the slice; the
// stage never touches it again after handing it over.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchStage accumulates values into fixed-size groups and flushes them. A
// single worker drains the queue serially, appending each envelope's values
// to an internal buffer and invoking the flush callback whenever the buffer
// reaches the configured batch size. Complete flushes the residual, so the
// final batch may be smaller.
//
// A single worker serializes the buffer without locks; batching across a
// worker pool would need a lock around every append and would let batch
// boundaries race. The flush callback is typically the bottleneck anyway;
// use BatchActionStage when batches need concurrent processing.
//
// Ordering: batches are emitted in the order their first value arrived, and
// values within a batch preserve arrival order. Concatenating the emitted
// batches reproduces the send sequence.
type BatchStage[T any] struct {
	name      string
	queue     *queue[*envelope.Envelope[T]]
	flush     FlushFunc[T]
	batchSize int
	buffer    []T
	metrics   *Metrics
	observer  observability.Observer
	ctx       context.Context
	group     *errgroup.Group

	completeOnce sync.Once
	completed    chan struct{}
	completeErr  error
}

// NewBatchStage validates cfg and launches the single batching worker. The
// flush callback is required.
func NewBatchStage[T any](
	ctx context.Context,
	cfg config.BatchConfig,
	flush FlushFunc[T],
) (*BatchStage[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if flush == nil {
		return nil, &config.Error{Field: "flush", Value: nil, Reason: "required"}
	}

	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observer: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s := &BatchStage[T]{
		name:      cfg.Name,
		queue:     newQueue[*envelope.Envelope[T]](ctx, cfg.Capacity),
		flush:     flush,
		batchSize: cfg.BatchSize,
		metrics:   NewMetrics(),
		observer:  observer,
		ctx:       ctx,
		group:     &errgroup.Group{},
		completed: make(chan struct{}),
	}

	s.observe(EventStageStart, observability.LevelInfo, map[string]any{
		"capacity":   cfg.Capacity,
		"batch_size": cfg.BatchSize,
	})

	s.group.Go(s.worker)

	return s, nil
}

// Send enqueues an envelope, blocking while the queue is full. A batch
// envelope contributes all its values to the buffer in order.
func (s *BatchStage[T]) Send(ctx context.Context, env *envelope.Envelope[T]) error {
	s.metrics.RecordInput(1)
	if err := s.queue.put(ctx, env); err != nil {
		s.metrics.RecordInput(-1)
		return err
	}
	return nil
}

// SendItem wraps a single value in an envelope and sends it.
func (s *BatchStage[T]) SendItem(ctx context.Context, item T) error {
	return s.Send(ctx, envelope.Single(item))
}

// SendItems wraps a slice in a batch envelope and sends it.
func (s *BatchStage[T]) SendItems(ctx context.Context, items []T) error {
	return s.Send(ctx, envelope.Batch(items))
}

// Flush emits the buffered residual, if any. The worker is the only safe
// concurrent caller; application code may call Flush only once the worker
// has stopped, i.e. after Complete returned following cancellation.
func (s *BatchStage[T]) Flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	batch := s.buffer
	s.buffer = nil
	return s.emit(batch)
}

// Complete closes the queue and waits for the worker to drain it; the worker
// flushes the residual batch before exiting unless cancellation has been
// observed. Idempotent; repeated calls return the same result.
func (s *BatchStage[T]) Complete(ctx context.Context) error {
	s.completeOnce.Do(func() {
		s.queue.close()
		go func() {
			s.completeErr = s.group.Wait()
			snapshot := s.metrics.Snapshot()
			if s.completeErr != nil {
				s.observe(EventStageFault, observability.LevelError, map[string]any{
					"error":  s.completeErr.Error(),
					"input":  snapshot.InputCount,
					"output": snapshot.OutputCount,
				})
			} else {
				s.observe(EventStageComplete, observability.LevelInfo, map[string]any{
					"input":  snapshot.InputCount,
					"output": snapshot.OutputCount,
				})
			}
			close(s.completed)
		}()
	})

	select {
	case <-s.completed:
		return s.completeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the stage's counters.
func (s *BatchStage[T]) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *BatchStage[T]) InputCount() int64 {
	return s.metrics.Snapshot().InputCount
}

func (s *BatchStage[T]) OutputCount() int64 {
	return s.metrics.Snapshot().OutputCount
}

func (s *BatchStage[T]) WorkingCount() int64 {
	return s.metrics.Snapshot().WorkingCount
}

func (s *BatchStage[T]) worker() error {
	s.observe(EventWorkerStart, observability.LevelVerbose, nil)
	defer s.observe(EventWorkerExit, observability.LevelVerbose, nil)

	for {
		env, ok := s.queue.take()
		if !ok {
			break
		}

		s.metrics.RecordWorking(1)
		switch env.Kind() {
		case envelope.KindSingle:
			s.buffer = append(s.buffer, env.Value())
		case envelope.KindBatch:
			s.buffer = append(s.buffer, env.Values()...)
		}

		var err error
		for err == nil && len(s.buffer) >= s.batchSize {
			batch := s.buffer[:s.batchSize:s.batchSize]
			s.buffer = append([]T(nil), s.buffer[s.batchSize:]...)
			err = s.emit(batch)
		}
		s.metrics.RecordWorking(-1)
		if err != nil {
			return &WorkerError[T]{Stage: s.name, Worker: 0, Envelope: env, Err: err}
		}

		s.metrics.RecordOutput(1)
	}

	if s.ctx.Err() == nil {
		if err := s.Flush(); err != nil {
			return &WorkerError[T]{Stage: s.name, Worker: 0, Err: err}
		}
	}

	return nil
}

func (s *BatchStage[T]) emit(batch []T) error {
	s.observe(EventBatchFlush, observability.LevelVerbose, map[string]any{"size": len(batch)})
	return s.flush(s.ctx, batch)
}

func (s *BatchStage[T]) observe(t observability.EventType, level observability.Level, data map[string]any) {
	s.observer.OnEvent(s.ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "pipe.BatchStage",
		Stage:     s.name,
		Data:      data,
	})
}
