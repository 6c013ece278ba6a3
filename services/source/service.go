// Package source runs source containers and schedules their periodic pulls.
package source

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

// SourceRunner executes one source container; *oci.Runner implements it.
type SourceRunner interface {
	RunSource(ctx context.Context, def hook.SourceDefinition, inputs oci.SourceInputs, filesDir, workDir string) (oci.SourceOutput, error)
}

// Workspace resolves source directories; *storage.FileStorage implements it.
type Workspace interface {
	SourceFilesDir(sourceName string) (string, error)
	SourceWorkDir(sourceName string) (string, error)
	StageSourceRecord(sourceName, sourceID string, record map[string]interface{}) (string, error)
}

// Outbox is the append/watermark surface the service uses;
// *outbox.Store implements it.
type Outbox interface {
	AppendNew(ctx context.Context, evt event.Event) error
	FindLatest(ctx context.Context, eventType string) (*event.Event, error)
}

// Registry resolves source definitions by name; *config.NodeConfig
// implements it.
type Registry interface {
	Source(name string) (hook.SourceDefinition, bool)
}

// Service runs sources: it executes the container, stages every pulled
// record, and emits one SourceRecordReady per record plus a final
// SourceRunCompleted watermark.
type Service struct {
	registry  Registry
	runner    SourceRunner
	workspace Workspace
	outbox    Outbox
	log       *logging.Logger

	// conventionFor maps a source to the convention its records deposit
	// under.
	conventionFor func(sourceName string) string
}

// NewService builds the source service. conventionFor resolves the
// convention SRN for a source's records.
func NewService(registry Registry, runner SourceRunner, workspace Workspace, ob Outbox, conventionFor func(string) string, log *logging.Logger) *Service {
	return &Service{
		registry:      registry,
		runner:        runner,
		workspace:     workspace,
		outbox:        ob,
		conventionFor: conventionFor,
		log:           log,
	}
}

// Run executes one source pull as requested by a SourceRequested event.
func (s *Service) Run(ctx context.Context, req *event.SourceRequested) error {
	def, ok := s.registry.Source(req.SourceName)
	if !ok {
		return errors.NotFound("source", req.SourceName)
	}

	filesDir, err := s.workspace.SourceFilesDir(def.Name)
	if err != nil {
		return err
	}
	workDir, err := s.workspace.SourceWorkDir(def.Name)
	if err != nil {
		return err
	}

	out, err := s.runner.RunSource(ctx, def, oci.SourceInputs{
		Session: req.Session,
		Since:   req.Since,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}, filesDir, workDir)
	if err != nil {
		return err
	}

	convention := s.conventionFor(def.Name)
	for _, record := range out.Records {
		sourceID := recordSourceID(record)
		stagingDir, err := s.workspace.StageSourceRecord(def.Name, sourceID, record)
		if err != nil {
			return err
		}

		evt, err := event.New(&event.SourceRecordReady{
			SourceName:    def.Name,
			SourceID:      sourceID,
			ConventionSRN: convention,
			Metadata:      record,
			StagingDir:    stagingDir,
		})
		if err != nil {
			return err
		}
		if err := s.outbox.AppendNew(ctx, evt); err != nil {
			return err
		}
	}

	completed, err := event.New(&event.SourceRunCompleted{
		SourceName:  def.Name,
		RecordCount: len(out.Records),
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.outbox.AppendNew(ctx, completed); err != nil {
		return err
	}

	s.log.WithComponent("source").WithFields(logrus.Fields{
		"source":  def.Name,
		"records": len(out.Records),
	}).Info("source run completed")
	return nil
}

// LastRunCompleted returns the completion time carried by the most recent
// SourceRunCompleted event when that event belongs to sourceName, used as
// the next run's since watermark. Only the latest such event across all
// sources is consulted: when it belongs to another source, nil is returned
// even if sourceName has completed runs.
func (s *Service) LastRunCompleted(ctx context.Context, sourceName string) (*time.Time, error) {
	latest, err := s.outbox.FindLatest(ctx, event.TypeSourceRunCompleted)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	var payload event.SourceRunCompleted
	if err := event.DecodeAs(*latest, &payload); err != nil {
		return nil, err
	}
	if payload.SourceName != sourceName {
		return nil, nil
	}
	return &payload.CompletedAt, nil
}

// recordSourceID derives a stable identifier for a pulled record:
// its declared id/accession when present, else a fresh UUID.
func recordSourceID(record map[string]interface{}) string {
	for _, key := range []string{"id", "accession"} {
		if v, ok := record[key].(string); ok && v != "" {
			return sanitizeID(v)
		}
	}
	return uuid.NewString()
}

// sanitizeID keeps staged directory names filesystem-safe.
func sanitizeID(v string) string {
	out := make([]rune, 0, len(v))
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return uuid.NewString()
	}
	return string(out)
}
