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

// ActionStage moves envelopes from producers to a pool of workers through a
// bounded queue. Each worker dequeues an envelope, runs the action, then the
// done hook, and updates the stage counters around each step.
//
// Ordering: enqueue order is FIFO; workers race, so action and done
// execution order across envelopes is not guaranteed. For a given envelope,
// the action happens before the done hook.
//
// Cancellation: the context passed at construction is observed at Send and
// at queue waits. In-flight actions are not interrupted; they complete
// normally, though they receive the same context and may choose to observe
// it. Done hooks are skipped once cancellation has been observed — the flag
// is read after the action returns, so an envelope dequeued just before the
// signal may or may not run its hook.
//
// Faults: an action or done hook returning an error faults its worker. The
// worker exits carrying a WorkerError; remaining workers keep draining the
// queue. Complete surfaces the first fault. Envelopes still queued when the
// last worker exits are dropped.
type ActionStage[T any] struct {
	name     string
	queue    *queue[*envelope.Envelope[T]]
	action   Action[T]
	done     Action[T]
	metrics  *Metrics
	observer observability.Observer
	ctx      context.Context
	group    *errgroup.Group

	completeOnce sync.Once
	completed    chan struct{}
	completeErr  error
}

// NewActionStage validates cfg, creates the bounded queue, and launches
// exactly cfg.Parallelism workers. The done hook may be nil. The ctx is the
// stage's cancellation signal; it is observed at Send and at queue waits
// only.
func NewActionStage[T any](
	ctx context.Context,
	cfg config.ActionConfig,
	action Action[T],
	done Action[T],
) (*ActionStage[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if action == nil {
		return nil, &config.Error{Field: "action", Value: nil, Reason: "required"}
	}

	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observer: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if done == nil {
		done = Noop[T]()
	}

	s := &ActionStage[T]{
		name:      cfg.Name,
		queue:     newQueue[*envelope.Envelope[T]](ctx, cfg.Capacity),
		action:    action,
		done:      done,
		metrics:   NewMetrics(),
		observer:  observer,
		ctx:       ctx,
		group:     &errgroup.Group{},
		completed: make(chan struct{}),
	}

	s.observe(EventStageStart, observability.LevelInfo, map[string]any{
		"capacity":    cfg.Capacity,
		"parallelism": cfg.Parallelism,
	})

	for i := range cfg.Parallelism {
		s.group.Go(func() error {
			return s.worker(i)
		})
	}

	return s, nil
}

// Send enqueues an envelope, blocking while the queue is full. It fails with
// ErrStageClosed once Complete has started and with ErrStageCancelled after
// the stage's cancellation signal fired.
func (s *ActionStage[T]) Send(ctx context.Context, env *envelope.Envelope[T]) error {
	s.metrics.RecordInput(1)
	if err := s.queue.put(ctx, env); err != nil {
		s.metrics.RecordInput(-1)
		return err
	}
	return nil
}

// SendItem wraps a single value in an envelope and sends it.
func (s *ActionStage[T]) SendItem(ctx context.Context, item T) error {
	return s.Send(ctx, envelope.Single(item))
}

// SendItems wraps a slice in a batch envelope and sends it.
func (s *ActionStage[T]) SendItems(ctx context.Context, items []T) error {
	return s.Send(ctx, envelope.Batch(items))
}

// Complete closes the queue and waits for every worker to exit. On return,
// every envelope accepted before the call has been through the action and,
// absent cancellation, the done hook. The first worker fault is returned.
// Complete is idempotent: repeated calls wait on the same drain and return
// the same result. The ctx bounds only this caller's wait.
func (s *ActionStage[T]) Complete(ctx context.Context) error {
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
func (s *ActionStage[T]) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *ActionStage[T]) InputCount() int64 {
	return s.metrics.Snapshot().InputCount
}

func (s *ActionStage[T]) OutputCount() int64 {
	return s.metrics.Snapshot().OutputCount
}

func (s *ActionStage[T]) WorkingCount() int64 {
	return s.metrics.Snapshot().WorkingCount
}

func (s *ActionStage[T]) worker(id int) error {
	s.observe(EventWorkerStart, observability.LevelVerbose, map[string]any{"worker_id": id})
	defer s.observe(EventWorkerExit, observability.LevelVerbose, map[string]any{"worker_id": id})

	for {
		env, ok := s.queue.take()
		if !ok {
			return nil
		}

		s.metrics.RecordWorking(1)
		err := s.action(s.ctx, env)
		s.metrics.RecordWorking(-1)
		if err != nil {
			return &WorkerError[T]{Stage: s.name, Worker: id, Envelope: env, Err: err}
		}

		// The cancellation flag is read after the action returns; envelopes
		// dequeued just before the signal skip the hook best-effort.
		if s.ctx.Err() == nil {
			if err := s.done(s.ctx, env); err != nil {
				return &WorkerError[T]{Stage: s.name, Worker: id, Envelope: env, Err: err}
			}
		}

		s.metrics.RecordOutput(1)
	}
}

func (s *ActionStage[T]) observe(t observability.EventType, level observability.Level, data map[string]any) {
	s.observer.OnEvent(s.ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "pipe.ActionStage",
		Stage:     s.name,
		Data:      data,
	})
}
