package featurestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// Schema is the dedicated PostgreSQL schema holding every feature table.
const Schema = "features"

// insertChunkSize caps the rows per INSERT statement.
const insertChunkSize = 1000

// Store manages feature tables with dynamic DDL and bulk inserts.
// Table name = hook name directly; a name collision with a different
// schema at create time is a hard error.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// NewStore builds the feature store.
func NewStore(db *sql.DB, log *logging.Logger) *Store {
	return &Store{db: db, log: log}
}

// CreateTable creates the feature table for a hook and registers it in
// the feature_tables catalog. Re-creating a table with the identical
// schema is a no-op; an existing entry with a different schema is a
// Conflict. The hook name is regex-validated before any DDL is emitted.
func (s *Store) CreateTable(ctx context.Context, hookName string, def hook.Definition) error {
	if err := hook.ValidateIdentifier(hookName); err != nil {
		return err
	}
	schema := def.Manifest.FeatureSchema
	if err := schema.Validate(); err != nil {
		return err
	}

	wantSchema, err := json.Marshal(schema)
	if err != nil {
		return errors.Internal("marshal feature schema", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ExternalService("begin create table", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", Schema)); err != nil {
		return errors.ExternalService("ensure features schema", err)
	}

	var existing []byte
	err = tx.QueryRowContext(ctx,
		`SELECT feature_schema FROM feature_tables WHERE hook_name = $1`,
		hookName).Scan(&existing)
	switch {
	case err == nil:
		var existingSchema hook.FeatureSchema
		if err := json.Unmarshal(existing, &existingSchema); err != nil {
			return errors.Internal("decode cataloged feature schema", err)
		}
		if !reflect.DeepEqual(existingSchema, schema) {
			return errors.Conflict(fmt.Sprintf(
				"feature table already exists with a different schema: %s", hookName))
		}
		// Identical schema: idempotent no-op.
		return nil
	case err != sql.ErrNoRows:
		return errors.ExternalService("check feature catalog", err)
	}

	clauses := []string{
		`id BIGSERIAL PRIMARY KEY`,
		`record_srn TEXT NOT NULL`,
		`created_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
	}
	for _, col := range schema.Columns {
		clauses = append(clauses, columnDDL(col))
	}

	ddl := fmt.Sprintf("CREATE TABLE %q.%q (%s)", Schema, hookName, strings.Join(clauses, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errors.ExternalService("create feature table", err)
	}

	index := fmt.Sprintf("CREATE INDEX %q ON %q.%q (record_srn)",
		"idx_features_"+hookName+"_record", Schema, hookName)
	if _, err := tx.ExecContext(ctx, index); err != nil {
		return errors.ExternalService("index feature table", err)
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO feature_tables (hook_name, pg_table, feature_schema, schema_version, created_at)
        VALUES ($1, $2, $3, 1, $4)
    `, hookName, hookName, wantSchema, time.Now().UTC()); err != nil {
		return errors.ExternalService("register feature table", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.ExternalService("commit create table", err)
	}

	s.log.WithComponent("featurestore").WithFields(logrus.Fields{
		"hook":    hookName,
		"columns": len(schema.Columns),
	}).Info("feature table created")
	return nil
}

// InsertFeatures bulk-inserts feature rows for one record. Insertion is
// idempotent per (record, hook): existing rows for the record are deleted
// in the same transaction before the chunked inserts. Only columns
// declared in the cataloged schema are written; unknown keys are dropped.
// Returns the inserted row count.
func (s *Store) InsertFeatures(ctx context.Context, hookName, recordSRN string, rows []map[string]interface{}) (int, error) {
	if err := hook.ValidateIdentifier(hookName); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	schema, err := s.catalogSchema(ctx, hookName)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.ExternalService("begin insert features", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %q.%q WHERE record_srn = $1", Schema, hookName),
		recordSRN); err != nil {
		return 0, errors.ExternalService("clear existing features", err)
	}

	now := time.Now().UTC()
	total := 0
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.insertChunk(ctx, tx, hookName, schema, recordSRN, rows[start:end], now); err != nil {
			return 0, err
		}
		total += end - start
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.ExternalService("commit insert features", err)
	}
	return total, nil
}

// catalogSchema loads the registered schema for a hook's feature table.
func (s *Store) catalogSchema(ctx context.Context, hookName string) (hook.FeatureSchema, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT feature_schema FROM feature_tables WHERE hook_name = $1`,
		hookName).Scan(&raw)
	if err == sql.ErrNoRows {
		return hook.FeatureSchema{}, errors.NotFound("feature table", hookName)
	}
	if err != nil {
		return hook.FeatureSchema{}, errors.ExternalService("load feature catalog", err)
	}
	var schema hook.FeatureSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return hook.FeatureSchema{}, errors.Internal("decode feature schema", err)
	}
	return schema, nil
}

// insertChunk renders one multi-row INSERT. Column names come from the
// validated schema, never from row keys; values are always bound
// parameters, so no value is ever interpolated into SQL text.
func (s *Store) insertChunk(ctx context.Context, tx *sql.Tx, hookName string, schema hook.FeatureSchema, recordSRN string, rows []map[string]interface{}, now time.Time) error {
	columns := []string{`record_srn`, `created_at`}
	for _, col := range schema.Columns {
		columns = append(columns, fmt.Sprintf("%q", col.Name))
	}

	var (
		placeholders []string
		args         []interface{}
	)
	arg := 1
	for _, row := range rows {
		slots := make([]string, 0, len(columns))
		slots = append(slots, fmt.Sprintf("$%d", arg), fmt.Sprintf("$%d", arg+1))
		args = append(args, recordSRN, now)
		arg += 2

		for _, col := range schema.Columns {
			slots = append(slots, fmt.Sprintf("$%d", arg))
			value, err := bindValue(col, row[col.Name])
			if err != nil {
				return err
			}
			args = append(args, value)
			arg++
		}
		placeholders = append(placeholders, "("+strings.Join(slots, ", ")+")")
	}

	stmt := fmt.Sprintf("INSERT INTO %q.%q (%s) VALUES %s",
		Schema, hookName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.ExternalService("insert features", err)
	}
	return nil
}

// bindValue prepares one cell for binding: array and object values are
// serialized to JSON, nils stay NULL.
func bindValue(col hook.ColumnDef, value interface{}) (interface{}, error) {
	if value == nil {
		if col.Required {
			return nil, errors.ValidationField(col.Name, "required feature column is missing")
		}
		return nil, nil
	}
	switch col.JSONType {
	case hook.TypeArray, hook.TypeObject:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Internal(fmt.Sprintf("serialize feature column %s", col.Name), err)
		}
		return raw, nil
	}
	return value, nil
}

// Exists reports whether a feature table is registered for the hook.
func (s *Store) Exists(ctx context.Context, hookName string) (bool, error) {
	if err := hook.ValidateIdentifier(hookName); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM feature_tables WHERE hook_name = $1`, hookName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.ExternalService("check feature table", err)
	}
	return true, nil
}
