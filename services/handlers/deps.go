// Package handlers holds the event handlers wired into the worker pool.
// Each handler is an idempotent reaction to one event type; the handler's
// name doubles as its consumer group.
package handlers

import (
	"context"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/deposition"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

// DepositionService is the deposition surface handlers drive. Handlers
// run as the System identity.
type DepositionService interface {
	Create(ctx context.Context, identity auth.Identity, conventionSRN srn.SRN, ownerID string) (*deposition.Deposition, error)
	Get(ctx context.Context, identity auth.Identity, depSRN srn.SRN) (*deposition.Deposition, error)
	UpdateMetadata(ctx context.Context, identity auth.Identity, depSRN srn.SRN, metadata map[string]interface{}) (*deposition.Deposition, error)
	Submit(ctx context.Context, identity auth.Identity, depSRN srn.SRN) error
	ReturnToDraft(ctx context.Context, depSRN srn.SRN) error
	Publish(ctx context.Context, identity auth.Identity, depSRN srn.SRN) (*deposition.Deposition, error)
}

// ValidationService orchestrates hook runs.
type ValidationService interface {
	CreateRun(ctx context.Context) (*validation.Run, error)
	Get(ctx context.Context, runSRN srn.SRN) (*validation.Run, error)
	RunHooks(ctx context.Context, run *validation.Run, dep srn.SRN, inputs oci.HookInputs, specs []oci.HookSpec) (*validation.Run, error)
}

// FeatureService inserts hook features for published records.
type FeatureService interface {
	InsertFeatures(ctx context.Context, hookName, recordSRN string, rows []map[string]interface{}) (int, error)
}

// SourceService executes one requested source pull.
type SourceService interface {
	Run(ctx context.Context, req *event.SourceRequested) error
}

// Outbox appends follow-up events.
type Outbox interface {
	AppendNew(ctx context.Context, evt event.Event) error
}

// NodeRegistry resolves the hooks enforcing a convention.
type NodeRegistry interface {
	HooksFor(conventionSRN string) []hook.Definition
}

// Storage is the durable workspace surface handlers touch.
type Storage interface {
	MoveSourceFilesToDeposition(stagingDir string, dep srn.SRN) error
	HookFeaturesExist(dep srn.SRN, hookName string) bool
	ReadHookFeatures(dep srn.SRN, hookName string) ([]map[string]interface{}, error)
	DepositionFilesDir(dep srn.SRN) (string, error)
}
