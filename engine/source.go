package engine

import "context"

// Receipt pairs a received Message with the DeliveryTag the Source minted
// for it.
type Receipt struct {
	Message Message
	Tag     DeliveryTag
}

// StepResult is the outcome of a single, non-blocking Source.Step call.
type StepResult uint8

const (
	// StepMessage means Receipt holds a newly received message.
	StepMessage StepResult = iota

	// StepIdle means nothing is available right now, but the source is
	// healthy.
	StepIdle

	// StepExhausted means the source is permanently depleted (only
	// possible for a finite queue source without `loop`).
	StepExhausted
)

// Source produces messages with opaque delivery tags. Two flavors are
// provided: a push-based broker subscription with server-side credit, and
// a pull-based directory iterator.
type Source interface {
	// Start establishes the connection or opens the directory. May block
	// up to a caller-supplied connect timeout.
	Start(ctx context.Context) error

	// Step makes one non-blocking attempt to obtain a message. It never
	// blocks the caller's goroutine waiting on network or disk I/O beyond
	// what the underlying transport already buffered.
	Step(ctx context.Context) (Receipt, StepResult, error)

	// Ack confirms successful downstream handling of the message
	// identified by tag.
	Ack(tag DeliveryTag) error

	// Nack reports failed downstream handling: for a broker, the message
	// is requeued; for a directory with `remove` unset, it is simply
	// released without ack semantics.
	Nack(tag DeliveryTag) error

	// Stop releases resources. Must be idempotent.
	Stop() error
}
