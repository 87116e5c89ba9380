package envelope

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates the payload shape of an Envelope.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
	KindEmpty  Kind = "empty"
)

// Envelope is the uniform carrier passed between pipeline stages. It holds
// exactly one value, a finite batch of values, or nothing. Envelopes are
// immutable after construction and safe to share across workers; the runtime
// never mutates the payload.
//
// Each envelope receives a UUIDv7 identity at construction. Stages that track
// per-item completion (fork-join) key on this identity, so each logical item
// should travel in its own envelope: re-sending the same *Envelope value
// conflates completion tracking for the two sends.
type Envelope[T any] struct {
	id     string
	kind   Kind
	value  T
	values []T
}

// Single wraps one value.
func Single[T any](value T) *Envelope[T] {
	return &Envelope[T]{
		id:    generateID(),
		kind:  KindSingle,
		value: value,
	}
}

// Batch wraps a slice of values. The slice is retained, not copied; callers
// must not modify it after handing it over.
func Batch[T any](values []T) *Envelope[T] {
	return &Envelope[T]{
		id:     generateID(),
		kind:   KindBatch,
		values: values,
	}
}

// Empty returns an envelope carrying nothing.
func Empty[T any]() *Envelope[T] {
	return &Envelope[T]{
		id:   generateID(),
		kind: KindEmpty,
	}
}

// ID returns the envelope's identity, assigned at construction.
func (e *Envelope[T]) ID() string {
	return e.id
}

// Kind reports the payload shape.
func (e *Envelope[T]) Kind() Kind {
	return e.kind
}

// Value returns the single payload value. Valid only for KindSingle
// envelopes; any other kind returns the zero value.
func (e *Envelope[T]) Value() T {
	return e.value
}

// Values returns the batch payload. Valid only for KindBatch envelopes; any
// other kind returns nil. The internal slice is returned without copying.
func (e *Envelope[T]) Values() []T {
	return e.values
}

// IsEmpty reports whether the envelope carries no payload.
func (e *Envelope[T]) IsEmpty() bool {
	return e.kind == KindEmpty
}

// Len returns the number of values carried: 1 for single, the batch length
// for batch, 0 for empty.
func (e *Envelope[T]) Len() int {
	switch e.kind {
	case KindSingle:
		return 1
	case KindBatch:
		return len(e.values)
	default:
		return 0
	}
}

func (e *Envelope[T]) String() string {
	if e == nil {
		return "Envelope{}"
	}
	return fmt.Sprintf("Envelope{ID: %s, Kind: %s, Len: %d}", e.id, e.kind, e.Len())
}

func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}
