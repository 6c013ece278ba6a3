package event

import (
	"time"

	"github.com/opensciencearchive/server/domain/hook"
)

// Event type names. Consumer groups subscribe to these.
const (
	TypeServerStarted       = "ServerStarted"
	TypeSourceRequested     = "SourceRequested"
	TypeSourceRunCompleted  = "SourceRunCompleted"
	TypeSourceRecordReady   = "SourceRecordReady"
	TypeDepositionSubmitted = "DepositionSubmitted"
	TypeValidationRequested = "ValidationRequested"
	TypeValidationCompleted = "ValidationCompleted"
	TypeValidationFailed    = "ValidationFailed"
	TypeRecordPublished     = "RecordPublished"
	TypeIndexRecord         = "IndexRecord"
)

func init() {
	Register(TypeServerStarted, func() Payload { return &ServerStarted{} })
	Register(TypeSourceRequested, func() Payload { return &SourceRequested{} })
	Register(TypeSourceRunCompleted, func() Payload { return &SourceRunCompleted{} })
	Register(TypeSourceRecordReady, func() Payload { return &SourceRecordReady{} })
	Register(TypeDepositionSubmitted, func() Payload { return &DepositionSubmitted{} })
	Register(TypeValidationRequested, func() Payload { return &ValidationRequested{} })
	Register(TypeValidationCompleted, func() Payload { return &ValidationCompleted{} })
	Register(TypeValidationFailed, func() Payload { return &ValidationFailed{} })
	Register(TypeRecordPublished, func() Payload { return &RecordPublished{} })
	Register(TypeIndexRecord, func() Payload { return &IndexRecord{} })
}

// HookSnapshot is the serializable subset of a hook definition carried in
// event payloads, so consuming domains operate without cross-domain reads.
type HookSnapshot struct {
	Name     string                 `json:"name"`
	Image    string                 `json:"image"`
	Digest   string                 `json:"digest"`
	Features []hook.ColumnDef       `json:"features,omitempty"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Limits   hook.Limits            `json:"limits"`
}

// SnapshotHook extracts the snapshot for a hook definition.
func SnapshotHook(def hook.Definition) HookSnapshot {
	return HookSnapshot{
		Name:     def.Manifest.Name,
		Image:    def.Image,
		Digest:   def.Digest,
		Features: def.Manifest.FeatureSchema.Columns,
		Config:   def.Config,
		Limits:   def.Limits,
	}
}

// ServerStarted is appended once per process boot.
type ServerStarted struct {
	StartedAt time.Time `json:"started_at"`
}

func (*ServerStarted) EventType() string { return TypeServerStarted }

// SourceRequested asks for one source container run.
type SourceRequested struct {
	SourceName string                 `json:"source_name"`
	Since      *time.Time             `json:"since,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
	Offset     int                    `json:"offset,omitempty"`
	Session    map[string]interface{} `json:"session,omitempty"`
}

func (*SourceRequested) EventType() string { return TypeSourceRequested }

// SourceRunCompleted records the watermark of a finished source run.
type SourceRunCompleted struct {
	SourceName  string    `json:"source_name"`
	RecordCount int       `json:"record_count"`
	CompletedAt time.Time `json:"completed_at"`
}

func (*SourceRunCompleted) EventType() string { return TypeSourceRunCompleted }

// SourceRecordReady announces one staged upstream record.
type SourceRecordReady struct {
	SourceName    string                 `json:"source_name"`
	SourceID      string                 `json:"source_id"`
	ConventionSRN string                 `json:"convention_srn"`
	Metadata      map[string]interface{} `json:"metadata"`
	StagingDir    string                 `json:"staging_dir"`
}

func (*SourceRecordReady) EventType() string { return TypeSourceRecordReady }

// DepositionSubmitted announces a deposition entering validation.
type DepositionSubmitted struct {
	DepositionSRN string `json:"deposition_srn"`
	ConventionSRN string `json:"convention_srn"`
}

func (*DepositionSubmitted) EventType() string { return TypeDepositionSubmitted }

// ValidationRequested carries everything a validation worker needs:
// one snapshot per configured hook.
type ValidationRequested struct {
	DepositionSRN string         `json:"deposition_srn"`
	RunSRN        string         `json:"run_srn"`
	Hooks         []HookSnapshot `json:"hooks"`
}

func (*ValidationRequested) EventType() string { return TypeValidationRequested }

// ValidationCompleted announces a run whose hooks all passed.
type ValidationCompleted struct {
	DepositionSRN string `json:"deposition_srn"`
	RunSRN        string `json:"run_srn"`
}

func (*ValidationCompleted) EventType() string { return TypeValidationCompleted }

// ValidationFailed announces a run halted by a rejected or failed hook.
type ValidationFailed struct {
	DepositionSRN string   `json:"deposition_srn"`
	RunSRN        string   `json:"run_srn"`
	Reasons       []string `json:"reasons"`
}

func (*ValidationFailed) EventType() string { return TypeValidationFailed }

// RecordPublished announces a record entering the catalog.
type RecordPublished struct {
	RecordSRN     string                 `json:"record_srn"`
	DepositionSRN string                 `json:"deposition_srn"`
	ConventionSRN string                 `json:"convention_srn"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (*RecordPublished) EventType() string { return TypeRecordPublished }

// IndexRecord asks one index backend to ingest a published record.
type IndexRecord struct {
	RecordSRN string                 `json:"record_srn"`
	Backend   string                 `json:"backend"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (*IndexRecord) EventType() string { return TypeIndexRecord }
