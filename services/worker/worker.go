package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/metrics"
	"github.com/opensciencearchive/server/services/outbox"
)

// Status of a running worker.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusClaiming   Status = "claiming"
	StatusProcessing Status = "processing"
	StatusStopping   Status = "stopping"
)

// Store is the outbox surface a worker claims through.
type Store interface {
	Claim(ctx context.Context, eventType, group string, batchSize int, now time.Time) ([]event.Event, error)
	Ack(ctx context.Context, eventID uuid.UUID, group string, now time.Time) error
	Fail(ctx context.Context, eventID uuid.UUID, group, deliveryError string, maxRetries int, now time.Time) (outbox.DeliveryStatus, error)
	ReclaimStale(ctx context.Context, claimTimeout time.Duration, now time.Time) (int64, error)
	QueueDepth(ctx context.Context, group string) (int64, error)
}

// Worker runs the claim loop for one (event type, consumer group) pair.
type Worker struct {
	config  Config
	handler Handler
	store   Store
	log     *logrus.Entry
	metrics *metrics.Metrics

	wake chan struct{}

	mu             sync.Mutex
	status         Status
	processedCount int64
	failedCount    int64
}

// NewWorker builds a worker. The config must already be validated.
func NewWorker(handler Handler, store Store, config Config, log *logging.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		config:  config,
		handler: handler,
		store:   store,
		log:     log.WithGroup(handler.Name()),
		metrics: m,
		wake:    make(chan struct{}, 1),
		status:  StatusIdle,
	}
}

// Status returns the worker's current status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Counts returns total processed and failed events.
func (w *Worker) Counts() (processed, failed int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processedCount, w.failedCount
}

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Wake shortens the current idle sleep, typically on an outbox notify.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the claim loop until the context is cancelled. The worker
// finishes its in-flight batch before exiting; no new claims are taken
// after cancellation.
func (w *Worker) Run(ctx context.Context) {
	w.log.WithField("event_type", w.handler.EventType()).Info("worker started")
	consecutiveFailures := 0

	for {
		if !w.sleep(ctx, backoff(w.config.PollInterval, consecutiveFailures)) {
			break
		}

		w.setStatus(StatusClaiming)
		claimCtx, cancel := context.WithTimeout(ctx, w.config.BatchTimeout)
		start := time.Now()
		batch, err := w.store.Claim(claimCtx, w.handler.EventType(), w.handler.Name(), w.config.BatchSize, time.Now().UTC())
		cancel()
		if w.metrics != nil {
			w.metrics.ClaimLatency.WithLabelValues(w.handler.Name()).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.WithError(err).Error("claim failed")
			w.setStatus(StatusIdle)
			consecutiveFailures++
			continue
		}
		if len(batch) == 0 {
			w.setStatus(StatusIdle)
			consecutiveFailures = 0
			continue
		}

		w.setStatus(StatusProcessing)
		if w.processBatch(ctx, batch) {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
		}
		w.setStatus(StatusIdle)
	}

	w.setStatus(StatusStopping)
	w.log.Info("worker stopped")
}

// sleep waits for the given duration, an early wake, or cancellation.
// Returns false when the context is done.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-w.wake:
		return true
	}
}

// processBatch invokes the handler and records per-event outcomes. Each
// event is acknowledged or failed independently; an error without
// per-event outcomes fails the entire batch. Returns true on full success.
func (w *Worker) processBatch(ctx context.Context, batch []event.Event) bool {
	var err error
	if bh, ok := w.handler.(BatchHandler); ok {
		err = bh.HandleBatch(ctx, batch)
	} else {
		err = RunBatch(ctx, w.handler, batch)
	}

	// Ack/fail must proceed even when the run context was cancelled
	// mid-batch, so outcomes are recorded within the claim timeout.
	finishCtx, cancel := context.WithTimeout(context.Background(), w.config.BatchTimeout)
	defer cancel()
	now := time.Now().UTC()

	if err == nil {
		for _, evt := range batch {
			w.ack(finishCtx, evt, now)
		}
		return true
	}

	var batchErr *BatchError
	if stderrors.As(err, &batchErr) {
		for _, evt := range batch {
			if evtErr, failed := batchErr.Failed[evt.ID]; failed {
				w.fail(finishCtx, evt, evtErr, now)
			} else {
				w.ack(finishCtx, evt, now)
			}
		}
		return false
	}

	// Unhandled error: the whole batch fails.
	w.log.WithError(err).WithField("batch", len(batch)).Error("batch failed")
	for _, evt := range batch {
		w.fail(finishCtx, evt, err, now)
	}
	return false
}

func (w *Worker) ack(ctx context.Context, evt event.Event, now time.Time) {
	if err := w.store.Ack(ctx, evt.ID, w.handler.Name(), now); err != nil {
		w.log.WithError(err).WithField("event_id", evt.ID).Error("ack failed")
		return
	}
	w.mu.Lock()
	w.processedCount++
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.Processed.WithLabelValues(w.handler.Name()).Inc()
	}
}

func (w *Worker) fail(ctx context.Context, evt event.Event, evtErr error, now time.Time) {
	status, err := w.store.Fail(ctx, evt.ID, w.handler.Name(), evtErr.Error(), w.config.MaxRetries, now)
	if err != nil {
		w.log.WithError(err).WithField("event_id", evt.ID).Error("fail recording failed")
		return
	}
	w.mu.Lock()
	w.failedCount++
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.Failed.WithLabelValues(w.handler.Name()).Inc()
	}
	w.log.WithFields(logrus.Fields{
		"event_id": evt.ID,
		"status":   status,
	}).WithError(evtErr).Warn("event failed")
}
