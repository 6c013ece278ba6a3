// Package deposition manages the deposition lifecycle: creation,
// submission, validation outcomes, and publication into the catalog.
package deposition

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/opensciencearchive/server/domain/deposition"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Querier is the subset of *sql.DB / *sql.Tx the repository reads and
// writes through, so state changes can share a transaction with outbox
// appends.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists depositions.
type Repository struct {
	db *sql.DB
}

// NewRepository builds the deposition repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts a deposition through the given querier.
func (r *Repository) Save(ctx context.Context, q Querier, dep *deposition.Deposition) error {
	metadata, err := json.Marshal(dep.Metadata)
	if err != nil {
		return errors.Internal("marshal deposition metadata", err)
	}

	var recordSRN *string
	if dep.RecordSRN != nil {
		s := dep.RecordSRN.String()
		recordSRN = &s
	}

	_, err = q.ExecContext(ctx, `
        INSERT INTO depositions (srn, convention_srn, owner_id, status, metadata, record_srn, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (srn) DO UPDATE SET
            status = EXCLUDED.status,
            metadata = EXCLUDED.metadata,
            record_srn = EXCLUDED.record_srn,
            updated_at = EXCLUDED.updated_at
    `, dep.SRN.String(), dep.ConventionSRN.String(), dep.Owner, dep.Status, metadata, recordSRN, dep.CreatedAt, dep.UpdatedAt)
	if err != nil {
		return errors.ExternalService("save deposition", err)
	}
	return nil
}

// Get loads a deposition through the given querier, or NotFound.
func (r *Repository) Get(ctx context.Context, q Querier, depSRN srn.SRN) (*deposition.Deposition, error) {
	row := q.QueryRowContext(ctx, `
        SELECT srn, convention_srn, owner_id, status, metadata, record_srn, created_at, updated_at
        FROM depositions
        WHERE srn = $1
    `, depSRN.String())

	var (
		dep       deposition.Deposition
		rawSRN    string
		rawConv   string
		metadata  []byte
		recordSRN *string
	)
	if err := row.Scan(&rawSRN, &rawConv, &dep.Owner, &dep.Status, &metadata, &recordSRN, &dep.CreatedAt, &dep.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("deposition", depSRN.String())
		}
		return nil, errors.ExternalService("load deposition", err)
	}

	parsed, err := srn.ParseKind(rawSRN, srn.KindDeposition)
	if err != nil {
		return nil, err
	}
	dep.SRN = parsed

	conv, err := srn.ParseKind(rawConv, srn.KindConvention)
	if err != nil {
		return nil, err
	}
	dep.ConventionSRN = conv

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &dep.Metadata); err != nil {
			return nil, errors.Internal("decode deposition metadata", err)
		}
	}

	if recordSRN != nil {
		rec, err := srn.ParseKind(*recordSRN, srn.KindRecord)
		if err != nil {
			return nil, err
		}
		dep.RecordSRN = &rec
	}
	return &dep, nil
}

// DB returns the underlying pool for transaction control.
func (r *Repository) DB() *sql.DB { return r.db }
