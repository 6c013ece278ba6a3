package handlers

import (
	"context"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

// BeginValidation creates a validation run for a submitted deposition and
// emits ValidationRequested carrying one hook snapshot per configured
// hook, so the validation worker needs no cross-domain reads.
type BeginValidation struct {
	Validations ValidationService
	Node        NodeRegistry
	Outbox      Outbox
	Log         *logging.Logger
}

func (h *BeginValidation) Name() string      { return "BeginValidation" }
func (h *BeginValidation) EventType() string { return event.TypeDepositionSubmitted }

func (h *BeginValidation) Handle(ctx context.Context, evt event.Event) error {
	var payload event.DepositionSubmitted
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	run, err := h.Validations.CreateRun(ctx)
	if err != nil {
		return err
	}

	var snapshots []event.HookSnapshot
	for _, def := range h.Node.HooksFor(payload.ConventionSRN) {
		snapshots = append(snapshots, event.SnapshotHook(def))
	}

	requested, err := event.New(&event.ValidationRequested{
		DepositionSRN: payload.DepositionSRN,
		RunSRN:        run.SRN.String(),
		Hooks:         snapshots,
	})
	if err != nil {
		return err
	}
	if err := h.Outbox.AppendNew(ctx, requested); err != nil {
		return err
	}

	h.Log.WithComponent("handlers").
		WithField("run", run.SRN.String()).
		WithField("hooks", len(snapshots)).
		Info("validation requested")
	return nil
}

// RunValidation executes the requested hooks and emits the terminal
// ValidationCompleted or ValidationFailed event. Re-delivery of a run
// that already reached a terminal status is a no-op.
type RunValidation struct {
	Validations ValidationService
	Depositions DepositionService
	Storage     Storage
	Outbox      Outbox
	Log         *logging.Logger
}

func (h *RunValidation) Name() string      { return "RunValidation" }
func (h *RunValidation) EventType() string { return event.TypeValidationRequested }

func (h *RunValidation) Handle(ctx context.Context, evt event.Event) error {
	var payload event.ValidationRequested
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	runSRN, err := srn.ParseKind(payload.RunSRN, srn.KindValidationRun)
	if err != nil {
		return err
	}
	depSRN, err := srn.ParseKind(payload.DepositionSRN, srn.KindDeposition)
	if err != nil {
		return err
	}

	run, err := h.Validations.Get(ctx, runSRN)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return nil
	}

	dep, err := h.Depositions.Get(ctx, auth.System{}, depSRN)
	if err != nil {
		return err
	}
	filesDir, err := h.Storage.DepositionFilesDir(depSRN)
	if err != nil {
		return err
	}

	specs := make([]oci.HookSpec, 0, len(payload.Hooks))
	for _, snap := range payload.Hooks {
		specs = append(specs, oci.HookSpec{
			Name:   snap.Name,
			Image:  snap.Image,
			Digest: snap.Digest,
			Config: snap.Config,
			Limits: snap.Limits,
		})
	}

	run, err = h.Validations.RunHooks(ctx, run, depSRN, oci.HookInputs{
		Record:   dep.Metadata,
		FilesDir: filesDir,
	}, specs)
	if err != nil {
		return err
	}

	var terminal event.Payload
	if run.Status == validation.RunCompleted {
		terminal = &event.ValidationCompleted{
			DepositionSRN: payload.DepositionSRN,
			RunSRN:        payload.RunSRN,
		}
	} else {
		terminal = &event.ValidationFailed{
			DepositionSRN: payload.DepositionSRN,
			RunSRN:        payload.RunSRN,
			Reasons:       run.FailureReasons(),
		}
	}

	out, err := event.New(terminal)
	if err != nil {
		return err
	}
	return h.Outbox.AppendNew(ctx, out)
}

// ReturnToDraft moves a deposition back to draft when its validation
// fails. A deposition that no longer exists is a no-op.
type ReturnToDraft struct {
	Depositions DepositionService
	Log         *logging.Logger
}

func (h *ReturnToDraft) Name() string      { return "ReturnToDraft" }
func (h *ReturnToDraft) EventType() string { return event.TypeValidationFailed }

func (h *ReturnToDraft) Handle(ctx context.Context, evt event.Event) error {
	var payload event.ValidationFailed
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	depSRN, err := srn.ParseKind(payload.DepositionSRN, srn.KindDeposition)
	if err != nil {
		return err
	}

	if err := h.Depositions.ReturnToDraft(ctx, depSRN); err != nil {
		if errors.IsNotFound(err) {
			h.Log.WithComponent("handlers").
				WithField("deposition", payload.DepositionSRN).
				Warn("deposition gone, skipping return to draft")
			return nil
		}
		return err
	}

	h.Log.WithComponent("handlers").
		WithField("deposition", payload.DepositionSRN).
		WithField("reasons", payload.Reasons).
		Info("deposition returned to draft")
	return nil
}

// PublishOnValidation publishes a deposition whose validation completed.
type PublishOnValidation struct {
	Depositions DepositionService
	Log         *logging.Logger
}

func (h *PublishOnValidation) Name() string      { return "PublishOnValidation" }
func (h *PublishOnValidation) EventType() string { return event.TypeValidationCompleted }

func (h *PublishOnValidation) Handle(ctx context.Context, evt event.Event) error {
	var payload event.ValidationCompleted
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	depSRN, err := srn.ParseKind(payload.DepositionSRN, srn.KindDeposition)
	if err != nil {
		return err
	}

	dep, err := h.Depositions.Publish(ctx, auth.System{}, depSRN)
	if err != nil {
		return err
	}

	h.Log.WithComponent("handlers").
		WithField("deposition", dep.SRN.String()).
		Info("deposition published after validation")
	return nil
}
