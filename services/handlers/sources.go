package handlers

import (
	"context"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// TriggerInitialSourceRun requests the first pull for every source whose
// initial run is enabled, once per server start.
type TriggerInitialSourceRun struct {
	Sources []hook.SourceDefinition
	Outbox  Outbox
	Log     *logging.Logger
}

func (h *TriggerInitialSourceRun) Name() string      { return "TriggerInitialSourceRun" }
func (h *TriggerInitialSourceRun) EventType() string { return event.TypeServerStarted }

func (h *TriggerInitialSourceRun) Handle(ctx context.Context, evt event.Event) error {
	for _, src := range h.Sources {
		if src.InitialRun == nil || !src.InitialRun.Enabled {
			continue
		}
		req, err := event.New(&event.SourceRequested{
			SourceName: src.Name,
			Limit:      src.InitialRun.Limit,
		})
		if err != nil {
			return err
		}
		if err := h.Outbox.AppendNew(ctx, req); err != nil {
			return err
		}
		h.Log.WithComponent("handlers").WithField("source", src.Name).Info("initial source run requested")
	}
	return nil
}

// RunSource executes one requested source pull.
type RunSource struct {
	Service SourceService
}

func (h *RunSource) Name() string      { return "RunSource" }
func (h *RunSource) EventType() string { return event.TypeSourceRequested }

func (h *RunSource) Handle(ctx context.Context, evt event.Event) error {
	var req event.SourceRequested
	if err := event.DecodeAs(evt, &req); err != nil {
		return err
	}
	return h.Service.Run(ctx, &req)
}

// CreateDepositionFromSource creates a deposition when a source record is
// ready: it copies the metadata, moves the staged files into the
// deposition's file directory, and submits for validation.
type CreateDepositionFromSource struct {
	Depositions DepositionService
	Storage     Storage
	Log         *logging.Logger
}

func (h *CreateDepositionFromSource) Name() string      { return "CreateDepositionFromSource" }
func (h *CreateDepositionFromSource) EventType() string { return event.TypeSourceRecordReady }

func (h *CreateDepositionFromSource) Handle(ctx context.Context, evt event.Event) error {
	var payload event.SourceRecordReady
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	conventionSRN, err := srn.ParseKind(payload.ConventionSRN, srn.KindConvention)
	if err != nil {
		return err
	}

	system := auth.System{}
	dep, err := h.Depositions.Create(ctx, system, conventionSRN, auth.SystemUserID)
	if err != nil {
		return err
	}

	if _, err := h.Depositions.UpdateMetadata(ctx, system, dep.SRN, payload.Metadata); err != nil {
		return err
	}

	if err := h.Storage.MoveSourceFilesToDeposition(payload.StagingDir, dep.SRN); err != nil {
		return err
	}

	if err := h.Depositions.Submit(ctx, system, dep.SRN); err != nil {
		return err
	}

	h.Log.WithComponent("handlers").
		WithField("deposition", dep.SRN.String()).
		WithField("source_id", payload.SourceID).
		Info("deposition created from source record")
	return nil
}
