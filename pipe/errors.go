package pipe

import (
	"errors"
	"fmt"

	"github.com/tailored-agentic-units/pipeline/envelope"
)

// Sentinel errors for stage operations.
var (
	// ErrStageClosed is returned by Send once Complete has started.
	ErrStageClosed = errors.New("stage closed")

	// ErrStageCancelled is returned by Send after the stage's cancellation
	// signal fired.
	ErrStageCancelled = errors.New("stage cancelled")
)

// WorkerError captures the failure of a single worker, preserving the worker
// id and the envelope in flight when the user action or done hook failed.
//
// Complete surfaces the first WorkerError observed across the pool. The
// error supports standard unwrapping, so errors.Is and errors.As reach the
// underlying user error:
//
//	if err := stage.Complete(ctx); err != nil {
//	    var wErr *pipe.WorkerError[Order]
//	    if errors.As(err, &wErr) {
//	        log.Printf("worker %d failed on %s", wErr.Worker, wErr.Envelope)
//	    }
//	}
type WorkerError[T any] struct {
	// Stage is the configured name of the stage the worker belonged to
	Stage string

	// Worker is the 0-based id of the worker that failed
	Worker int

	// Envelope is the envelope being processed when the failure occurred
	Envelope *envelope.Envelope[T]

	// Err is the underlying error returned by the user callback
	Err error
}

func (e *WorkerError[T]) Error() string {
	return fmt.Sprintf("stage %s: worker %d failed on %s: %v", e.Stage, e.Worker, e.Envelope, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *WorkerError[T]) Unwrap() error {
	return e.Err
}
