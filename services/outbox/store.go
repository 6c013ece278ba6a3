package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// DeliveryStatus is the state of one delivery row.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusClaimed   DeliveryStatus = "claimed"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// NotifyChannel is the LISTEN/NOTIFY channel pinged on every append so
// idle workers can shorten their next poll. Polling remains the
// correctness mechanism; the notify is a latency optimization.
const NotifyChannel = "outbox_append"

// Execer is the subset of *sql.DB / *sql.Tx the store appends through,
// so Append joins the caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the Postgres-backed outbox.
type Store struct {
	db       *sql.DB
	registry *SubscriptionRegistry
	log      *logging.Logger
}

// NewStore builds the outbox store.
func NewStore(db *sql.DB, registry *SubscriptionRegistry, log *logging.Logger) *Store {
	return &Store{db: db, registry: registry, log: log}
}

// DB exposes the underlying pool so handlers can open the transaction
// their Append joins.
func (s *Store) DB() *sql.DB { return s.db }

// Append writes the event row and one pending delivery row per consumer
// group subscribed to the event type, inside the caller's transaction.
func (s *Store) Append(ctx context.Context, tx Execer, evt event.Event) error {
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO events (id, event_type, payload, created_at)
        VALUES ($1, $2, $3, $4)
    `, evt.ID, evt.Type, []byte(evt.Payload), evt.CreatedAt); err != nil {
		return errors.ExternalService("append event", err)
	}

	now := evt.CreatedAt
	for _, group := range s.registry.GroupsFor(evt.Type) {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO deliveries (id, event_id, consumer_group, status, retry_count, updated_at)
            VALUES ($1, $2, $3, 'pending', 0, $4)
        `, uuid.New(), evt.ID, group, now); err != nil {
			return errors.ExternalService("append delivery", err)
		}
	}

	// Wake idle workers. Best-effort: a missed notify only costs one
	// poll interval.
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, evt.Type); err != nil {
		s.log.WithComponent("outbox").WithError(err).Warn("pg_notify failed")
	}

	s.log.WithComponent("outbox").WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"fan_out":    len(s.registry.GroupsFor(evt.Type)),
	}).Debug("event appended")
	return nil
}

// AppendNew wraps Append in its own transaction for callers without one.
func (s *Store) AppendNew(ctx context.Context, evt event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ExternalService("begin append", err)
	}
	if err := s.Append(ctx, tx, evt); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.ExternalService("commit append", err)
	}
	return nil
}

// Claim atomically reserves up to batchSize pending deliveries for the
// (event type, consumer group) pair, in event-id order. FOR UPDATE SKIP
// LOCKED partitions the unclaimed set so parallel workers never block
// each other or claim overlapping rows.
func (s *Store) Claim(ctx context.Context, eventType, group string, batchSize int, now time.Time) ([]event.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.ExternalService("begin claim", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
        SELECT d.id, e.id, e.event_type, e.payload, e.created_at
        FROM deliveries d
        JOIN events e ON e.id = d.event_id
        WHERE d.consumer_group = $1
          AND d.status = 'pending'
          AND e.event_type = $2
        ORDER BY d.event_id
        LIMIT $3
        FOR UPDATE OF d SKIP LOCKED
    `, group, eventType, batchSize)
	if err != nil {
		return nil, errors.ExternalService("claim select", err)
	}

	var (
		deliveryIDs []uuid.UUID
		events      []event.Event
	)
	for rows.Next() {
		var (
			deliveryID uuid.UUID
			evt        event.Event
			payload    []byte
		)
		if err := rows.Scan(&deliveryID, &evt.ID, &evt.Type, &payload, &evt.CreatedAt); err != nil {
			rows.Close()
			return nil, errors.ExternalService("claim scan", err)
		}
		evt.Payload = payload
		deliveryIDs = append(deliveryIDs, deliveryID)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.ExternalService("claim rows", err)
	}
	rows.Close()

	if len(deliveryIDs) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE deliveries
        SET status = 'claimed', claimed_at = $1, updated_at = $1
        WHERE id = ANY($2)
    `, now, pq.Array(deliveryIDs)); err != nil {
		return nil, errors.ExternalService("claim update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.ExternalService("commit claim", err)
	}
	return events, nil
}

// Ack marks a delivery delivered. A delivery moves to delivered at most
// once: acks for rows no longer claimed are no-ops.
func (s *Store) Ack(ctx context.Context, eventID uuid.UUID, group string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE deliveries
        SET status = 'delivered', delivered_at = $3, updated_at = $3
        WHERE event_id = $1 AND consumer_group = $2 AND status = 'claimed'
    `, eventID, group, now)
	if err != nil {
		return errors.ExternalService("ack delivery", err)
	}
	return nil
}

// Fail records a processing failure: the retry count is incremented and
// the delivery returns to pending, or is parked failed once the count
// exceeds maxRetries. Returns the resulting status.
func (s *Store) Fail(ctx context.Context, eventID uuid.UUID, group, deliveryError string, maxRetries int, now time.Time) (DeliveryStatus, error) {
	row := s.db.QueryRowContext(ctx, `
        UPDATE deliveries
        SET retry_count = retry_count + 1,
            status = CASE WHEN retry_count + 1 > $3 THEN 'failed' ELSE 'pending' END,
            delivery_error = $4,
            updated_at = $5
        WHERE event_id = $1 AND consumer_group = $2 AND status = 'claimed'
        RETURNING status
    `, eventID, group, maxRetries, deliveryError, now)

	var status DeliveryStatus
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			// Already reclaimed or resolved elsewhere; nothing to record.
			return "", nil
		}
		return "", errors.ExternalService("fail delivery", err)
	}
	if status == StatusFailed {
		s.log.WithComponent("outbox").WithFields(logrus.Fields{
			"event_id":       eventID,
			"consumer_group": group,
		}).Error("delivery parked failed after retry ceiling")
	}
	return status, nil
}

// ReclaimStale returns claimed deliveries whose claim has outlived
// claimTimeout to pending. This is the recovery path for workers that
// crashed mid-batch. Returns the number of reclaimed rows.
func (s *Store) ReclaimStale(ctx context.Context, claimTimeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-claimTimeout)
	res, err := s.db.ExecContext(ctx, `
        UPDATE deliveries
        SET status = 'pending', updated_at = $2
        WHERE status = 'claimed' AND claimed_at < $1
    `, cutoff, now)
	if err != nil {
		return 0, errors.ExternalService("reclaim stale", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.WithComponent("outbox").WithField("count", n).Warn("reclaimed stale deliveries")
	}
	return n, nil
}

// QueueDepth returns the pending delivery count for a consumer group.
// Operators observe per-group lag through this.
func (s *Store) QueueDepth(ctx context.Context, group string) (int64, error) {
	var depth int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM deliveries
        WHERE consumer_group = $1 AND status = 'pending'
    `, group).Scan(&depth)
	if err != nil {
		return 0, errors.ExternalService("queue depth", err)
	}
	return depth, nil
}

// PruneDelivered deletes delivered rows older than the retention window.
// Events themselves live forever unless pruned by an operator.
func (s *Store) PruneDelivered(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM deliveries
        WHERE status = 'delivered' AND delivered_at < $1
    `, now.Add(-retention))
	if err != nil {
		return 0, errors.ExternalService("prune delivered", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FindLatest returns the most recent event of a type, or nil when none
// exists. Schedulers use it to derive run watermarks.
func (s *Store) FindLatest(ctx context.Context, eventType string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, event_type, payload, created_at
        FROM events
        WHERE event_type = $1
        ORDER BY created_at DESC, id DESC
        LIMIT 1
    `, eventType)

	var (
		evt     event.Event
		payload []byte
	)
	if err := row.Scan(&evt.ID, &evt.Type, &payload, &evt.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.ExternalService("find latest event", err)
	}
	evt.Payload = payload
	return &evt, nil
}
