// Package envelope provides the carrier type passed between pipeline stages.
//
// An Envelope holds either a single value, a batch of values, or nothing,
// and carries a UUIDv7 identity assigned at construction. The identity is
// what fork-join stages key per-item completion tracking on, which keeps the
// runtime from ever inspecting the payload type's equality: wrapping a value
// in an envelope at pipeline ingress "boxes" it with reference-like identity
// regardless of whether the payload is a pointer, a struct, or a slice.
//
// # Construction
//
//	single := envelope.Single(order)
//	batch := envelope.Batch([]Order{a, b, c})
//	empty := envelope.Empty[Order]()
//
// # Access
//
//	switch env.Kind() {
//	case envelope.KindSingle:
//	    process(env.Value())
//	case envelope.KindBatch:
//	    processAll(env.Values())
//	}
//
// Envelopes are immutable after construction and safe to share read-only
// across concurrent workers. Mutating a payload from user code while the
// envelope is in flight requires external synchronization.
package envelope
