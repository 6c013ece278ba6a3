package deposition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/authz"
	"github.com/opensciencearchive/server/domain/deposition"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/services/outbox"
)

// Outbox is the append surface the service emits events through;
// *outbox.Store implements it.
type Outbox interface {
	Append(ctx context.Context, tx outbox.Execer, evt event.Event) error
}

// Service owns deposition state transitions. Every mutation except
// ReturnToDraft, which takes no identity, is guarded by the policy kernel;
// the repository boundary applies resource checks.
// Status changes and their events commit in one transaction.
type Service struct {
	repo       *Repository
	outbox     Outbox
	policy     *authz.PolicySet
	nodeDomain string
	log        *logging.Logger

	// readCheck guards loaded depositions at the repository boundary:
	// owners and curators may read.
	readCheck authz.ResourceCheck
}

// NewService builds the deposition service.
func NewService(repo *Repository, ob Outbox, policy *authz.PolicySet, nodeDomain string, log *logging.Logger) *Service {
	return &Service{
		repo:       repo,
		outbox:     ob,
		policy:     policy,
		nodeDomain: nodeDomain,
		log:        log,
		readCheck:  authz.Owner().Or(authz.HasRole(auth.RoleCurator)),
	}
}

// Create makes a draft deposition owned by ownerID.
func (s *Service) Create(ctx context.Context, identity auth.Identity, conventionSRN srn.SRN, ownerID string) (*deposition.Deposition, error) {
	if err := s.policy.Guard(identity, authz.ActionDepositionCreate, nil); err != nil {
		return nil, err
	}

	depSRN, err := srn.NewDepositionSRN(s.nodeDomain, uuid.NewString())
	if err != nil {
		return nil, err
	}
	dep, err := deposition.New(depSRN, conventionSRN, ownerID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, s.repo.DB(), dep); err != nil {
		return nil, err
	}

	s.log.WithComponent("deposition").WithField("srn", dep.SRN.String()).Info("deposition created")
	return dep, nil
}

// Get loads a deposition for the identity, applying the read check.
func (s *Service) Get(ctx context.Context, identity auth.Identity, depSRN srn.SRN) (*deposition.Deposition, error) {
	dep, err := s.repo.Get(ctx, s.repo.DB(), depSRN)
	if err != nil {
		return nil, err
	}
	if err := s.readCheck.Evaluate(identity, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// UpdateMetadata replaces a draft deposition's metadata.
func (s *Service) UpdateMetadata(ctx context.Context, identity auth.Identity, depSRN srn.SRN, metadata map[string]interface{}) (*deposition.Deposition, error) {
	dep, err := s.repo.Get(ctx, s.repo.DB(), depSRN)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Guard(identity, authz.ActionDepositionUpdate, dep); err != nil {
		return nil, err
	}
	if err := dep.SetMetadata(metadata, time.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, s.repo.DB(), dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// Submit moves a deposition into validation and appends
// DepositionSubmitted in the same transaction as the status change.
// Submitting an already-submitted deposition is a no-op.
func (s *Service) Submit(ctx context.Context, identity auth.Identity, depSRN srn.SRN) error {
	dep, err := s.repo.Get(ctx, s.repo.DB(), depSRN)
	if err != nil {
		return err
	}
	if err := s.policy.Guard(identity, authz.ActionDepositionSubmit, dep); err != nil {
		return err
	}

	if dep.Status == deposition.StatusSubmitted {
		return nil
	}
	if err := dep.Submit(time.Now()); err != nil {
		return err
	}

	evt, err := event.New(&event.DepositionSubmitted{
		DepositionSRN: dep.SRN.String(),
		ConventionSRN: dep.ConventionSRN.String(),
	})
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx Querier) error {
		if err := s.repo.Save(ctx, tx, dep); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, evt)
	})
}

// ReturnToDraft moves a submitted deposition back to draft after a
// failed validation. Missing depositions are reported as NotFound; the
// calling handler treats that as a no-op.
func (s *Service) ReturnToDraft(ctx context.Context, depSRN srn.SRN) error {
	dep, err := s.repo.Get(ctx, s.repo.DB(), depSRN)
	if err != nil {
		return err
	}
	if err := dep.ReturnToDraft(time.Now()); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, s.repo.DB(), dep); err != nil {
		return err
	}
	s.log.WithComponent("deposition").WithField("srn", depSRN.String()).Info("deposition returned to draft")
	return nil
}

// Publish finalizes a submitted deposition as a generation-1 record and
// appends RecordPublished in the same transaction. Re-publication under
// event re-delivery is a no-op.
func (s *Service) Publish(ctx context.Context, identity auth.Identity, depSRN srn.SRN) (*deposition.Deposition, error) {
	dep, err := s.repo.Get(ctx, s.repo.DB(), depSRN)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Guard(identity, authz.ActionDepositionApprove, dep); err != nil {
		return nil, err
	}

	if dep.Status == deposition.StatusPublished {
		return dep, nil
	}

	recordSRN, err := srn.NewRecordSRN(s.nodeDomain, dep.SRN.Local, 1)
	if err != nil {
		return nil, err
	}
	if err := dep.Publish(recordSRN, time.Now()); err != nil {
		return nil, err
	}

	evt, err := event.New(&event.RecordPublished{
		RecordSRN:     recordSRN.String(),
		DepositionSRN: dep.SRN.String(),
		ConventionSRN: dep.ConventionSRN.String(),
		Metadata:      dep.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := s.inTx(ctx, func(tx Querier) error {
		if err := s.repo.Save(ctx, tx, dep); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, evt)
	}); err != nil {
		return nil, err
	}

	s.log.WithComponent("deposition").WithFields(logrus.Fields{
		"deposition": dep.SRN.String(),
		"record":     recordSRN.String(),
	}).Info("record published")
	return dep, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := s.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.ExternalService("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.ExternalService("commit transaction", err)
	}
	return nil
}
