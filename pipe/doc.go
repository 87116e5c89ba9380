// Package pipe provides the concurrency runtime for in-process streaming
// pipelines: bounded, back-pressured stages that move envelopes from
// producers to cooperating workers with deterministic completion.
//
// # Stage Kinds
//
// Four building blocks cover the common pipeline shapes:
//
//   - ActionStage: a bounded queue drained by N workers, each applying an
//     action and a done hook to every envelope.
//   - BatchStage: a single worker accumulating values into fixed-size
//     batches, with a residual flush on completion.
//   - BatchActionStage: a BatchStage whose emitted batches feed an inner
//     worker pool for concurrent per-batch processing.
//   - ParallelStage: a fork-join broadcast that delivers every envelope to
//     a fixed set of child stages and runs a stage-level done hook once all
//     children have finished it.
//
// RunSelector rounds out the package with a fair multi-event wait/dispatch
// primitive for driving stages from heterogeneous sources.
//
// # A Minimal Pipeline
//
//	cfg := config.DefaultActionConfig()
//	cfg.Merge(&config.ActionConfig{Name: "enrich", Parallelism: 8})
//
//	stage, err := pipe.NewActionStage(ctx, cfg, pipe.ForEach(enrich), nil)
//	if err != nil {
//	    return err
//	}
//
//	for _, order := range orders {
//	    if err := stage.SendItem(ctx, order); err != nil {
//	        return err
//	    }
//	}
//	return stage.Complete(ctx)
//
// # Back-Pressure
//
// Every stage owns one bounded queue. Send blocks while the queue is full,
// which is the only upstream flow-control signal; there is no buffering
// beyond the configured capacity.
//
// # Completion
//
// Complete closes the stage to new envelopes, drains the queue, waits for
// all workers, and surfaces the first worker fault. It is idempotent. After
// a clean Complete, InputCount == OutputCount and WorkingCount == 0.
//
// # Cancellation
//
// The context passed at stage construction is the cancellation signal. It
// is observed at Send and at queue waits only: queue waits resolve to
// end-of-stream, in-flight actions run to completion, done hooks are
// skipped best-effort, and Complete still returns cleanly. Envelopes left
// in the queue are not processed.
//
// # Composition
//
// Stages compose through done hooks. Into turns a downstream stage into a
// done hook, chaining stages into pipelines; ParallelStage's ChildFactory
// wires its join hook into each child the same way.
//
// # Concurrency Model
//
// Each stage owns its queue, workers, and counters; there is no global
// state, and independent pipelines coexist freely. Envelope payloads are
// shared read-only across ParallelStage children. The completion ledger of
// a ParallelStage is mutated only by its join serializer's single worker,
// so it needs no lock.
package pipe
