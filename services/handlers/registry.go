package handlers

import (
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/services/worker"
)

// Deps collects everything the handler set needs.
type Deps struct {
	Depositions DepositionService
	Validations ValidationService
	Features    FeatureService
	Source      SourceService
	Outbox      Outbox
	Node        NodeRegistry
	Sources     []hook.SourceDefinition
	Storage     Storage
	Keyword     IndexBackend
	Vector      IndexBackend
	Log         *logging.Logger
}

// Registry returns the startup handler list. The worker pool and the
// outbox subscription registry are both built from it: each handler's
// name is its consumer group, its event type its subscription.
func Registry(d Deps) []worker.Handler {
	return []worker.Handler{
		&TriggerInitialSourceRun{Sources: d.Sources, Outbox: d.Outbox, Log: d.Log},
		&RunSource{Service: d.Source},
		&CreateDepositionFromSource{Depositions: d.Depositions, Storage: d.Storage, Log: d.Log},
		&BeginValidation{Validations: d.Validations, Node: d.Node, Outbox: d.Outbox, Log: d.Log},
		&RunValidation{Validations: d.Validations, Depositions: d.Depositions, Storage: d.Storage, Outbox: d.Outbox, Log: d.Log},
		&ReturnToDraft{Depositions: d.Depositions, Log: d.Log},
		&PublishOnValidation{Depositions: d.Depositions, Log: d.Log},
		&InsertRecordFeatures{Node: d.Node, Storage: d.Storage, Features: d.Features, Log: d.Log},
		&FanOutToIndexBackends{Backends: []string{BackendKeyword, BackendVector}, Outbox: d.Outbox},
		NewKeywordIndexHandler(d.Keyword),
		NewVectorIndexHandler(d.Vector),
	}
}
