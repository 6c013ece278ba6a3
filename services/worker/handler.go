package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/opensciencearchive/server/domain/event"
)

// Handler is a pure domain reaction to one event type. The handler's name
// is its consumer group: one delivery row is created per event per group.
// Handlers must be idempotent keyed on the event id, because re-delivery
// occurs after stale-claim recovery and retryable failures.
type Handler interface {
	// Name is the consumer group this handler subscribes under.
	Name() string
	// EventType is the event type this handler claims.
	EventType() string
	// Handle processes a single event.
	Handle(ctx context.Context, evt event.Event) error
}

// BatchHandler is implemented by handlers that override batch processing
// for bulk efficiency. Workers call HandleBatch instead of looping Handle.
type BatchHandler interface {
	Handler
	HandleBatch(ctx context.Context, events []event.Event) error
}

// Configured is implemented by handlers that override the pool's worker
// defaults.
type Configured interface {
	WorkerConfig(defaults Config) Config
}

// BatchError reports per-event outcomes from a batch handler. Events
// absent from Failed succeeded and are acked; the rest are failed
// individually. Any other error from a handler fails the whole batch.
type BatchError struct {
	Failed map[uuid.UUID]error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return "batch partially failed"
}

// RunBatch iterates Handle over a batch, collecting per-event failures.
// It is the default batch behavior for plain handlers.
func RunBatch(ctx context.Context, h Handler, events []event.Event) error {
	failed := make(map[uuid.UUID]error)
	for _, evt := range events {
		if err := h.Handle(ctx, evt); err != nil {
			failed[evt.ID] = err
		}
	}
	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}
