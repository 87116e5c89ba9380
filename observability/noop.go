package observability

import "context"

// NoOpObserver discards all events with zero overhead. Use it for hot
// pipelines where per-envelope events would dominate the cost of the work.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(ctx context.Context, event Event) {}
