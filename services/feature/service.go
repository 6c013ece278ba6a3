// Package feature fronts the feature store for handlers and startup.
package feature

import (
	"context"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/featurestore"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// Service wraps the feature store with startup table provisioning.
type Service struct {
	store *featurestore.Store
	log   *logging.Logger
}

// NewService builds the feature service.
func NewService(store *featurestore.Store, log *logging.Logger) *Service {
	return &Service{store: store, log: log}
}

// EnsureTables creates the feature table for every declared hook. Called
// at boot; tables already cataloged with the same schema are no-ops, and
// a schema drift is a Conflict that aborts startup. Schemas are immutable
// once created: a change needs a new hook name or a versioned rename.
func (s *Service) EnsureTables(ctx context.Context, defs []hook.Definition) error {
	for _, def := range defs {
		if err := s.store.CreateTable(ctx, def.Manifest.Name, def); err != nil {
			return err
		}
	}
	return nil
}

// InsertFeatures bulk-inserts feature rows keyed by record SRN.
func (s *Service) InsertFeatures(ctx context.Context, hookName, recordSRN string, rows []map[string]interface{}) (int, error) {
	return s.store.InsertFeatures(ctx, hookName, recordSRN, rows)
}
