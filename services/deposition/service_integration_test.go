package deposition

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/authz"
	"github.com/opensciencearchive/server/domain/deposition"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/database"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/services/outbox"
)

// Integration tests against a real PostgreSQL. Set TEST_DATABASE_URL to run.
func testService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := database.Open(ctx, url, database.Options{MaxConnections: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.EnsureSchema(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE deliveries, events, depositions CASCADE`)
	require.NoError(t, err)

	log := logging.New("test", "error", "text")
	registry, err := outbox.NewSubscriptionRegistry([]outbox.Subscription{
		{EventType: event.TypeDepositionSubmitted, Group: "BeginValidation"},
		{EventType: event.TypeRecordPublished, Group: "InsertRecordFeatures"},
	})
	require.NoError(t, err)
	store := outbox.NewStore(db, registry, log)

	svc := NewService(NewRepository(db), store, authz.DefaultPolicySet(log), "example.org", log)
	return svc, db
}

func depositor(userID string) auth.Principal {
	return auth.Principal{UserID: userID, Roles: []auth.Role{auth.RoleDepositor}}
}

func conventionSRN(t *testing.T) srn.SRN {
	t.Helper()
	conv, err := srn.NewConventionSRN("example.org", "proteomics", "1.0.0")
	require.NoError(t, err)
	return conv
}

func TestLifecycle_SubmitAppendsEventTransactionally(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	owner := depositor("u1")

	dep, err := svc.Create(ctx, owner, conventionSRN(t), "u1")
	require.NoError(t, err)

	_, err = svc.UpdateMetadata(ctx, owner, dep.SRN, map[string]interface{}{"title": "study"})
	require.NoError(t, err)

	require.NoError(t, svc.Submit(ctx, owner, dep.SRN))

	// The status change and the DepositionSubmitted fan-out committed
	// together.
	var status string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT status FROM depositions WHERE srn = $1`, dep.SRN.String()).Scan(&status))
	assert.Equal(t, string(deposition.StatusSubmitted), status)

	var deliveries int
	require.NoError(t, db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM deliveries d
        JOIN events e ON e.id = d.event_id
        WHERE e.event_type = $1 AND d.consumer_group = 'BeginValidation'
    `, event.TypeDepositionSubmitted).Scan(&deliveries))
	assert.Equal(t, 1, deliveries)

	// Submit is idempotent: no second event on re-delivery.
	require.NoError(t, svc.Submit(ctx, owner, dep.SRN))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE event_type = $1`,
		event.TypeDepositionSubmitted).Scan(&deliveries))
	assert.Equal(t, 1, deliveries)
}

func TestPublish_EmitsRecordPublished(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	owner := depositor("u1")

	dep, err := svc.Create(ctx, owner, conventionSRN(t), "u1")
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, owner, dep.SRN))

	published, err := svc.Publish(ctx, auth.System{}, dep.SRN)
	require.NoError(t, err)
	require.NotNil(t, published.RecordSRN)
	assert.Equal(t, srn.KindRecord, published.RecordSRN.Kind)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE event_type = $1`,
		event.TypeRecordPublished).Scan(&count))
	assert.Equal(t, 1, count)

	// Re-publication under event re-delivery is a no-op.
	again, err := svc.Publish(ctx, auth.System{}, dep.SRN)
	require.NoError(t, err)
	assert.Equal(t, published.RecordSRN.String(), again.RecordSRN.String())
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE event_type = $1`,
		event.TypeRecordPublished).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAuthorization_OwnershipEnforced(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	dep, err := svc.Create(ctx, depositor("u1"), conventionSRN(t), "u1")
	require.NoError(t, err)

	// A different depositor cannot read, update, or submit.
	_, err = svc.Get(ctx, depositor("u2"), dep.SRN)
	assert.True(t, errors.IsAuthorization(err))
	_, err = svc.UpdateMetadata(ctx, depositor("u2"), dep.SRN, nil)
	assert.True(t, errors.IsAuthorization(err))
	assert.True(t, errors.IsAuthorization(svc.Submit(ctx, depositor("u2"), dep.SRN)))

	// A curator may read via the role rule.
	curator := auth.Principal{UserID: "c1", Roles: []auth.Role{auth.RoleCurator}}
	_, err = svc.Get(ctx, curator, dep.SRN)
	assert.NoError(t, err)

	// Anonymous is rejected with missing_token at the repository boundary.
	_, err = svc.Get(ctx, auth.Anonymous{}, dep.SRN)
	var se *errors.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, errors.ErrCodeMissingToken, se.Code)
}

func TestReturnToDraft_Integration(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	owner := depositor("u1")

	dep, err := svc.Create(ctx, owner, conventionSRN(t), "u1")
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, owner, dep.SRN))

	require.NoError(t, svc.ReturnToDraft(ctx, dep.SRN))
	got, err := svc.Get(ctx, owner, dep.SRN)
	require.NoError(t, err)
	assert.Equal(t, deposition.StatusDraft, got.Status)

	missing, err := srn.NewDepositionSRN("example.org", "gone")
	require.NoError(t, err)
	assert.True(t, errors.IsNotFound(svc.ReturnToDraft(ctx, missing)))
}
