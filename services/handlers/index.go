package handlers

import (
	"context"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/services/worker"
)

// Index backend names.
const (
	BackendKeyword = "keyword"
	BackendVector  = "vector"
)

// IndexBackend ingests published records into one search index. The
// backends themselves live outside the core; the pipeline only feeds them.
type IndexBackend interface {
	IngestBatch(ctx context.Context, records []event.RecordPublished) error
}

// LogIndexBackend is the default backend: it only logs. Deployments
// plug real search backends in at startup.
type LogIndexBackend struct {
	Backend string
	Log     *logging.Logger
}

// IngestBatch logs the batch and drops it.
func (b *LogIndexBackend) IngestBatch(ctx context.Context, records []event.RecordPublished) error {
	b.Log.WithComponent("index").
		WithField("backend", b.Backend).
		WithField("records", len(records)).
		Debug("index batch dropped (no backend configured)")
	return nil
}

// FanOutToIndexBackends emits one IndexRecord per external index backend
// for each published record. External backends consume these events
// outside the core; with none registered, append writes the event row
// and no deliveries.
type FanOutToIndexBackends struct {
	Backends []string
	Outbox   Outbox
}

func (h *FanOutToIndexBackends) Name() string      { return "FanOutToIndexBackends" }
func (h *FanOutToIndexBackends) EventType() string { return event.TypeRecordPublished }

func (h *FanOutToIndexBackends) Handle(ctx context.Context, evt event.Event) error {
	var payload event.RecordPublished
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	for _, backend := range h.Backends {
		out, err := event.New(&event.IndexRecord{
			RecordSRN: payload.RecordSRN,
			Backend:   backend,
			Metadata:  payload.Metadata,
		})
		if err != nil {
			return err
		}
		if err := h.Outbox.AppendNew(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// indexHandler is the shared shape of the built-in index consumers:
// batch ingestion of published records into one backend. Batches are
// wide for bulk efficiency.
type indexHandler struct {
	name string
	sink IndexBackend
}

func (h *indexHandler) EventType() string { return event.TypeRecordPublished }
func (h *indexHandler) Name() string      { return h.name }

func (h *indexHandler) Handle(ctx context.Context, evt event.Event) error {
	return h.HandleBatch(ctx, []event.Event{evt})
}

// HandleBatch ingests the whole claimed batch in one backend call.
func (h *indexHandler) HandleBatch(ctx context.Context, events []event.Event) error {
	records := make([]event.RecordPublished, 0, len(events))
	for _, evt := range events {
		var payload event.RecordPublished
		if err := event.DecodeAs(evt, &payload); err != nil {
			return err
		}
		records = append(records, payload)
	}
	return h.sink.IngestBatch(ctx, records)
}

// WorkerConfig widens the batch for bulk ingestion.
func (h *indexHandler) WorkerConfig(defaults worker.Config) worker.Config {
	defaults.BatchSize = 100
	return defaults
}

// NewKeywordIndexHandler builds the keyword-index consumer.
func NewKeywordIndexHandler(sink IndexBackend) worker.BatchHandler {
	return &indexHandler{name: "KeywordIndexHandler", sink: sink}
}

// NewVectorIndexHandler builds the vector-index consumer.
func NewVectorIndexHandler(sink IndexBackend) worker.BatchHandler {
	return &indexHandler{name: "VectorIndexHandler", sink: sink}
}
