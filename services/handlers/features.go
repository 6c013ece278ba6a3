package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// InsertRecordFeatures reads each hook's features.json from the durable
// workspace and inserts the rows into the hook's feature table, keyed by
// record SRN. Insertion replaces any prior rows for the record, so
// re-delivery is safe.
type InsertRecordFeatures struct {
	Node     NodeRegistry
	Storage  Storage
	Features FeatureService
	Log      *logging.Logger
}

func (h *InsertRecordFeatures) Name() string      { return "InsertRecordFeatures" }
func (h *InsertRecordFeatures) EventType() string { return event.TypeRecordPublished }

func (h *InsertRecordFeatures) Handle(ctx context.Context, evt event.Event) error {
	var payload event.RecordPublished
	if err := event.DecodeAs(evt, &payload); err != nil {
		return err
	}

	depSRN, err := srn.ParseKind(payload.DepositionSRN, srn.KindDeposition)
	if err != nil {
		return err
	}

	for _, def := range h.Node.HooksFor(payload.ConventionSRN) {
		hookName := def.Manifest.Name
		if !h.Storage.HookFeaturesExist(depSRN, hookName) {
			continue
		}

		rows, err := h.Storage.ReadHookFeatures(depSRN, hookName)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		count, err := h.Features.InsertFeatures(ctx, hookName, payload.RecordSRN, rows)
		if err != nil {
			return err
		}

		h.Log.WithComponent("handlers").WithFields(logrus.Fields{
			"hook":   hookName,
			"record": payload.RecordSRN,
			"count":  count,
		}).Debug("features inserted")
	}
	return nil
}
