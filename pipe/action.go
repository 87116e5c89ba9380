package pipe

import (
	"context"

	"github.com/tailored-agentic-units/pipeline/envelope"
)

// Action is the user callback applied to every envelope moving through a
// stage. Actions run on stage workers; a blocking action suspends only its
// own worker. Returning an error faults the worker and is surfaced by
// Complete.
type Action[T any] func(ctx context.Context, env *envelope.Envelope[T]) error

// ForEach adapts a per-value function into an Action. A single envelope
// yields one call; a batch envelope yields one call per element, in order;
// an empty envelope yields none. The first error stops the iteration.
func ForEach[T any](fn func(ctx context.Context, value T) error) Action[T] {
	return func(ctx context.Context, env *envelope.Envelope[T]) error {
		switch env.Kind() {
		case envelope.KindSingle:
			return fn(ctx, env.Value())
		case envelope.KindBatch:
			for _, v := range env.Values() {
				if err := fn(ctx, v); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// ForBatch adapts a per-slice function into an Action. A batch envelope
// passes its values through; a single envelope is presented as a one-element
// slice; an empty envelope yields no call.
func ForBatch[T any](fn func(ctx context.Context, values []T) error) Action[T] {
	return func(ctx context.Context, env *envelope.Envelope[T]) error {
		switch env.Kind() {
		case envelope.KindSingle:
			return fn(ctx, []T{env.Value()})
		case envelope.KindBatch:
			return fn(ctx, env.Values())
		}
		return nil
	}
}

// Noop returns an action that does nothing. Stage constructors substitute it
// for nil done hooks.
func Noop[T any]() Action[T] {
	return func(context.Context, *envelope.Envelope[T]) error { return nil }
}

// Into returns an action that forwards every envelope into next. Used as a
// done hook it links stages into a pipeline:
//
//	second, _ := pipe.NewActionStage(ctx, cfg2, persist, nil)
//	first, _ := pipe.NewActionStage(ctx, cfg1, enrich, pipe.Into(second))
func Into[T any](next Stage[T]) Action[T] {
	return func(ctx context.Context, env *envelope.Envelope[T]) error {
		return next.Send(ctx, env)
	}
}
