// Package validation orchestrates hook execution for depositions.
package validation

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Repository persists validation runs.
type Repository struct {
	db *sql.DB
}

// NewRepository builds the validation-run repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts a run. Results are stored as JSONB.
func (r *Repository) Save(ctx context.Context, run *validation.Run) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return errors.Internal("marshal hook results", err)
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO validation_runs (srn, status, results, started_at, completed_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (srn) DO UPDATE SET
            status = EXCLUDED.status,
            results = EXCLUDED.results,
            started_at = EXCLUDED.started_at,
            completed_at = EXCLUDED.completed_at,
            expires_at = EXCLUDED.expires_at
    `, run.SRN.String(), run.Status, results, run.StartedAt, run.CompletedAt, run.ExpiresAt)
	if err != nil {
		return errors.ExternalService("save validation run", err)
	}
	return nil
}

// Get loads a run by SRN, or NotFound.
func (r *Repository) Get(ctx context.Context, runSRN srn.SRN) (*validation.Run, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT srn, status, results, started_at, completed_at, expires_at
        FROM validation_runs
        WHERE srn = $1
    `, runSRN.String())

	var (
		run     validation.Run
		rawSRN  string
		results []byte
	)
	if err := row.Scan(&rawSRN, &run.Status, &results, &run.StartedAt, &run.CompletedAt, &run.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("validation run", runSRN.String())
		}
		return nil, errors.ExternalService("load validation run", err)
	}

	parsed, err := srn.ParseKind(rawSRN, srn.KindValidationRun)
	if err != nil {
		return nil, err
	}
	run.SRN = parsed

	if err := json.Unmarshal(results, &run.Results); err != nil {
		return nil, errors.Internal("decode hook results", err)
	}
	return &run, nil
}
