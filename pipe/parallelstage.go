package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/pipeline/config"
	"github.com/tailored-agentic-units/pipeline/envelope"
	"github.com/tailored-agentic-units/pipeline/observability"
)

// ChildFactory builds the child stages of a ParallelStage. It receives the
// join hook and must wire it as every child's done hook; the factory
// returning a child without the hook breaks per-item join tracking. The map
// key names each child for diagnostics.
//
// Passing the hook as a plain callable keeps children free of back-pointers
// to the owning stage.
type ChildFactory[T any] func(join Action[T]) map[string]*ActionStage[T]

// ParallelStage broadcasts every envelope to a fixed set of child stages
// and invokes the stage-level done hook exactly once per envelope, after
// all children have finished it.
//
// Two capacity-1, single-worker ActionStages serve as serializers: the
// input serializer broadcasts each envelope to every child concurrently and
// waits for all sends; the join serializer owns the completion ledger, a
// map from envelope identity to the number of children that have finished
// that envelope. Single-writer access makes the ledger lock-free. When an
// entry reaches the child count it is removed and the done hook runs.
//
// Ordering: for a given envelope, every child action happens before the
// stage-level done hook. Across envelopes there is no ordering.
type ParallelStage[T any] struct {
	name       string
	childCount int
	done       Action[T]
	input      *ActionStage[T]
	join       *ActionStage[T]
	children   map[string]*ActionStage[T]
	ledger     map[string]int
	metrics    *Metrics
	observer   observability.Observer
	ctx        context.Context

	completeOnce sync.Once
	completed    chan struct{}
	completeErr  error
}

// NewParallelStage assembles the join serializer, the children (via the
// factory), and the input serializer, in that order. The factory must
// produce exactly cfg.Children stages. The done hook may be nil.
func NewParallelStage[T any](
	ctx context.Context,
	cfg config.ParallelConfig,
	done Action[T],
	factory ChildFactory[T],
) (*ParallelStage[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, &config.Error{Field: "factory", Value: nil, Reason: "required"}
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

	p := &ParallelStage[T]{
		name:       cfg.Name,
		childCount: cfg.Children,
		done:       done,
		ledger:     make(map[string]int),
		metrics:    NewMetrics(),
		observer:   observer,
		ctx:        ctx,
		completed:  make(chan struct{}),
	}

	p.join, err = NewActionStage(ctx, config.ActionConfig{
		Name:        cfg.Name + "-join",
		Capacity:    1,
		Parallelism: 1,
		Observer:    cfg.Observer,
	}, p.record, nil)
	if err != nil {
		return nil, err
	}

	// A child observing cancellation mid-hand-off is not a fault; the join
	// side simply never sees the envelope.
	track := func(ctx context.Context, env *envelope.Envelope[T]) error {
		if err := p.join.Send(ctx, env); err != nil && !errors.Is(err, ErrStageCancelled) {
			return err
		}
		return nil
	}

	p.children = factory(track)
	if len(p.children) != cfg.Children {
		p.join.Complete(context.Background())
		return nil, &config.Error{
			Field:  "children",
			Value:  len(p.children),
			Reason: fmt.Sprintf("factory must produce exactly %d child stages", cfg.Children),
		}
	}
	for name, child := range p.children {
		if child == nil {
			p.join.Complete(context.Background())
			return nil, &config.Error{Field: "children", Value: name, Reason: "nil child stage"}
		}
	}

	p.input, err = NewActionStage(ctx, config.ActionConfig{
		Name:        cfg.Name + "-input",
		Capacity:    1,
		Parallelism: 1,
		Observer:    cfg.Observer,
	}, p.broadcast, nil)
	if err != nil {
		p.join.Complete(context.Background())
		return nil, err
	}

	p.observe(EventStageStart, observability.LevelInfo, map[string]any{
		"children": cfg.Children,
	})

	return p, nil
}

// Send forwards an envelope into the input serializer's queue, blocking
// while a broadcast is in progress.
func (p *ParallelStage[T]) Send(ctx context.Context, env *envelope.Envelope[T]) error {
	p.metrics.RecordInput(1)
	if err := p.input.Send(ctx, env); err != nil {
		p.metrics.RecordInput(-1)
		return err
	}
	return nil
}

// SendItem wraps a single value in an envelope and sends it.
func (p *ParallelStage[T]) SendItem(ctx context.Context, item T) error {
	return p.Send(ctx, envelope.Single(item))
}

// SendItems wraps a slice in a batch envelope and sends it. The batch is
// broadcast as one unit and joins as one unit.
func (p *ParallelStage[T]) SendItems(ctx context.Context, items []T) error {
	return p.Send(ctx, envelope.Batch(items))
}

// Complete drains the stage in dependency order: the input serializer first
// (no more broadcasts), then every child (their done hooks feed the join
// serializer), then the join serializer. On return the stage-level done
// hook has run exactly once per envelope sent before the call. Idempotent.
func (p *ParallelStage[T]) Complete(ctx context.Context) error {
	p.completeOnce.Do(func() {
		go func() {
			background := context.Background()

			firstErr := p.input.Complete(background)
			for name, child := range p.children {
				if err := child.Complete(background); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("child %s: %w", name, err)
				}
			}
			if err := p.join.Complete(background); err != nil && firstErr == nil {
				firstErr = err
			}
			p.completeErr = firstErr

			snapshot := p.metrics.Snapshot()
			if firstErr != nil {
				p.observe(EventStageFault, observability.LevelError, map[string]any{
					"error":  firstErr.Error(),
					"input":  snapshot.InputCount,
					"output": snapshot.OutputCount,
				})
			} else {
				p.observe(EventStageComplete, observability.LevelInfo, map[string]any{
					"input":  snapshot.InputCount,
					"output": snapshot.OutputCount,
				})
			}
			close(p.completed)
		}()
	})

	select {
	case <-p.completed:
		return p.completeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the stage-level counters: inputs accepted,
// broadcasts in flight, and done-hook completions.
func (p *ParallelStage[T]) Metrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

func (p *ParallelStage[T]) InputCount() int64 {
	return p.metrics.Snapshot().InputCount
}

func (p *ParallelStage[T]) OutputCount() int64 {
	return p.metrics.Snapshot().OutputCount
}

func (p *ParallelStage[T]) WorkingCount() int64 {
	return p.metrics.Snapshot().WorkingCount
}

// broadcast is the input serializer's action: send the envelope to every
// child concurrently and wait for all sends to land.
func (p *ParallelStage[T]) broadcast(ctx context.Context, env *envelope.Envelope[T]) error {
	p.metrics.RecordWorking(1)
	defer p.metrics.RecordWorking(-1)

	var group errgroup.Group
	for name, child := range p.children {
		group.Go(func() error {
			if err := child.Send(ctx, env); err != nil && !errors.Is(err, ErrStageCancelled) {
				return fmt.Errorf("child %s: %w", name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// record is the join serializer's action and the ledger's single writer.
// Each call accounts one child completion for the envelope; the last one
// removes the entry and runs the stage-level done hook.
func (p *ParallelStage[T]) record(ctx context.Context, env *envelope.Envelope[T]) error {
	id := env.ID()
	p.ledger[id]++
	if p.ledger[id] < p.childCount {
		return nil
	}
	delete(p.ledger, id)

	p.observe(EventJoinComplete, observability.LevelVerbose, map[string]any{
		"envelope_id": id,
	})

	if err := p.done(ctx, env); err != nil {
		return err
	}
	p.metrics.RecordOutput(1)
	return nil
}

func (p *ParallelStage[T]) observe(t observability.EventType, level observability.Level, data map[string]any) {
	p.observer.OnEvent(p.ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "pipe.ParallelStage",
		Stage:     p.name,
		Data:      data,
	})
}
