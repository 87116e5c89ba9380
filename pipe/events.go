package pipe

import "github.com/tailored-agentic-units/pipeline/observability"

const (
	// Stage lifecycle
	EventStageStart    observability.EventType = "stage.start"
	EventStageComplete observability.EventType = "stage.complete"
	EventStageFault    observability.EventType = "stage.fault"

	// Worker lifecycle
	EventWorkerStart observability.EventType = "worker.start"
	EventWorkerExit  observability.EventType = "worker.exit"

	// Batching
	EventBatchFlush observability.EventType = "batch.flush"

	// Fork-join
	EventJoinComplete observability.EventType = "join.complete"
)
