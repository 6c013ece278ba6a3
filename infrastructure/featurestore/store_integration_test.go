package featurestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/database"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// Integration tests against a real PostgreSQL. Set TEST_DATABASE_URL to run.
func testFeatureStore(t *testing.T) (*Store, *sql.DB) {
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
	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS features CASCADE`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `TRUNCATE feature_tables`)
	require.NoError(t, err)

	return NewStore(db, logging.New("test", "error", "text")), db
}

func pocketDef() hook.Definition {
	return hook.Definition{
		Image:  "osa/pocket-detect:1.2",
		Digest: "sha256:abc123",
		Limits: hook.DefaultLimits(),
		Manifest: hook.Manifest{
			Name:         "pocket_detect",
			RecordSchema: "protein",
			Cardinality:  hook.CardinalityOne,
			FeatureSchema: hook.FeatureSchema{Columns: []hook.ColumnDef{
				{Name: "pocket_count", JSONType: hook.TypeInteger, Required: true},
				{Name: "score", JSONType: hook.TypeNumber},
				{Name: "centroid", JSONType: hook.TypeObject},
				{Name: "detected_at", JSONType: hook.TypeString, Format: "date-time"},
			}},
		},
	}
}

func TestCreateTable_RegistersCatalogEntry(t *testing.T) {
	store, db := testFeatureStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTable(ctx, "pocket_detect", pocketDef()))

	var pgTable string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT pg_table FROM feature_tables WHERE hook_name = 'pocket_detect'`).Scan(&pgTable))
	assert.Equal(t, "pocket_detect", pgTable)

	exists, err := store.Exists(ctx, "pocket_detect")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateTable_IdempotentSameSchema(t *testing.T) {
	store, _ := testFeatureStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTable(ctx, "pocket_detect", pocketDef()))
	require.NoError(t, store.CreateTable(ctx, "pocket_detect", pocketDef()))
}

func TestCreateTable_ConflictOnDifferentSchema(t *testing.T) {
	store, _ := testFeatureStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTable(ctx, "pocket_detect", pocketDef()))

	changed := pocketDef()
	changed.Manifest.FeatureSchema.Columns[0].JSONType = hook.TypeString
	err := store.CreateTable(ctx, "pocket_detect", changed)
	assert.True(t, errors.IsConflict(err))
}

func TestCreateTable_RejectsUnsafeIdentifiers(t *testing.T) {
	store, db := testFeatureStore(t)
	ctx := context.Background()

	for _, name := range []string{
		"foo; DROP TABLE bar",
		`foo"`,
		"foo'",
		"foo\nbar",
		"..",
		"Foo",
		"9foo",
	} {
		err := store.CreateTable(ctx, name, pocketDef())
		assert.True(t, errors.IsValidation(err), name)
	}

	// Nothing was created or cataloged by the rejected calls.
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feature_tables`).Scan(&count))
	assert.Zero(t, count)
}

func TestInsertFeatures(t *testing.T) {
	store, db := testFeatureStore(t)
	ctx := context.Background()
	recordSRN := "urn:osa:example.org:rec:r1@1"

	require.NoError(t, store.CreateTable(ctx, "pocket_detect", pocketDef()))

	n, err := store.InsertFeatures(ctx, "pocket_detect", recordSRN, []map[string]interface{}{
		{"pocket_count": 3, "score": 0.93, "centroid": map[string]interface{}{"x": 1.0, "y": 2.0}},
		{"pocket_count": 1, "unknown_key": "dropped"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM features.pocket_detect WHERE record_srn = $1`, recordSRN).Scan(&count))
	assert.Equal(t, 2, count)

	// Re-insertion for the same record replaces, never duplicates.
	n, err = store.InsertFeatures(ctx, "pocket_detect", recordSRN, []map[string]interface{}{
		{"pocket_count": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM features.pocket_detect WHERE record_srn = $1`, recordSRN).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestInsertFeatures_UnknownHook(t *testing.T) {
	store, _ := testFeatureStore(t)
	_, err := store.InsertFeatures(context.Background(), "nope", "urn:osa:example.org:rec:r1@1",
		[]map[string]interface{}{{"x": 1}})
	assert.True(t, errors.IsNotFound(err))
}

func TestInsertFeatures_EmptyRows(t *testing.T) {
	store, _ := testFeatureStore(t)
	n, err := store.InsertFeatures(context.Background(), "pocket_detect", "urn:osa:example.org:rec:r1@1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertFeatures_Chunking(t *testing.T) {
	store, db := testFeatureStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTable(ctx, "pocket_detect", pocketDef()))

	rows := make([]map[string]interface{}, 2500)
	for i := range rows {
		rows[i] = map[string]interface{}{"pocket_count": i}
	}
	n, err := store.InsertFeatures(ctx, "pocket_detect", "urn:osa:example.org:rec:big@1", rows)
	require.NoError(t, err)
	assert.Equal(t, 2500, n)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s.pocket_detect`, Schema)).Scan(&count))
	assert.Equal(t, 2500, count)
}
