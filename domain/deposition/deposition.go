// Package deposition holds the deposition aggregate and its status machine.
package deposition

import (
	"fmt"
	"time"

	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Status is the lifecycle state of a deposition.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusPublished Status = "published"
)

// Deposition is a record-in-progress owned by a depositor. Status moves
// draft → submitted → published, with submitted → draft on validation
// failure. The record SRN is immutable post-publication.
type Deposition struct {
	SRN           srn.SRN                `json:"srn"`
	ConventionSRN srn.SRN                `json:"convention_srn"`
	Owner         string                 `json:"owner_id"`
	Status        Status                 `json:"status"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	RecordSRN     *srn.SRN               `json:"record_srn,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// OwnerID implements the authorization ownership relation.
func (d *Deposition) OwnerID() string { return d.Owner }

// New creates a draft deposition.
func New(depSRN, conventionSRN srn.SRN, ownerID string, now time.Time) (*Deposition, error) {
	if depSRN.Kind != srn.KindDeposition {
		return nil, errors.Validation(fmt.Sprintf("deposition requires a dep SRN, got %s", depSRN.Kind))
	}
	if conventionSRN.Kind != srn.KindConvention {
		return nil, errors.Validation(fmt.Sprintf("deposition convention requires a conv SRN, got %s", conventionSRN.Kind))
	}
	now = now.UTC()
	return &Deposition{
		SRN:           depSRN,
		ConventionSRN: conventionSRN,
		Owner:         ownerID,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// SetMetadata replaces the deposition metadata. Only drafts are editable.
func (d *Deposition) SetMetadata(metadata map[string]interface{}, now time.Time) error {
	if d.Status != StatusDraft {
		return errors.InvalidState(fmt.Sprintf("deposition %s is %s, metadata is frozen", d.SRN, d.Status))
	}
	d.Metadata = metadata
	d.UpdatedAt = now.UTC()
	return nil
}

// Submit moves a draft into validation. Submitting a deposition that is
// already submitted is a no-op, which makes the operation idempotent
// under event re-delivery.
func (d *Deposition) Submit(now time.Time) error {
	switch d.Status {
	case StatusDraft:
		d.Status = StatusSubmitted
		d.UpdatedAt = now.UTC()
		return nil
	case StatusSubmitted:
		return nil
	default:
		return errors.InvalidState(fmt.Sprintf("deposition %s is %s, cannot submit", d.SRN, d.Status))
	}
}

// ReturnToDraft moves a submitted deposition back to draft after a failed
// validation. Already-draft depositions are left unchanged.
func (d *Deposition) ReturnToDraft(now time.Time) error {
	switch d.Status {
	case StatusSubmitted:
		d.Status = StatusDraft
		d.UpdatedAt = now.UTC()
		return nil
	case StatusDraft:
		return nil
	default:
		return errors.InvalidState(fmt.Sprintf("deposition %s is %s, cannot return to draft", d.SRN, d.Status))
	}
}

// Publish finalizes a submitted deposition with its record SRN. A
// deposition already published with the same record SRN is a no-op.
func (d *Deposition) Publish(recordSRN srn.SRN, now time.Time) error {
	if recordSRN.Kind != srn.KindRecord {
		return errors.Validation(fmt.Sprintf("publication requires a rec SRN, got %s", recordSRN.Kind))
	}
	switch d.Status {
	case StatusSubmitted:
		d.Status = StatusPublished
		d.RecordSRN = &recordSRN
		d.UpdatedAt = now.UTC()
		return nil
	case StatusPublished:
		if d.RecordSRN != nil && *d.RecordSRN == recordSRN {
			return nil
		}
		return errors.InvalidState(fmt.Sprintf("deposition %s already published as %s", d.SRN, d.RecordSRN))
	default:
		return errors.InvalidState(fmt.Sprintf("deposition %s is %s, cannot publish", d.SRN, d.Status))
	}
}
