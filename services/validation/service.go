package validation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

// RunRepo persists validation runs; *Repository implements it.
type RunRepo interface {
	Save(ctx context.Context, run *validation.Run) error
	Get(ctx context.Context, runSRN srn.SRN) (*validation.Run, error)
}

// HookRunner executes one hook container; *oci.Runner implements it.
type HookRunner interface {
	RunHook(ctx context.Context, spec oci.HookSpec, inputs oci.HookInputs, workDir string) validation.HookResult
}

// Workspace resolves per-hook work directories; *storage.FileStorage
// implements it.
type Workspace interface {
	HookWorkDir(dep srn.SRN, hookName string) (string, error)
}

// Service orchestrates hook execution for depositions.
type Service struct {
	repo       RunRepo
	runner     HookRunner
	workspace  Workspace
	nodeDomain string
	log        *logging.Logger
}

// NewService builds the validation service.
func NewService(repo RunRepo, runner HookRunner, workspace Workspace, nodeDomain string, log *logging.Logger) *Service {
	return &Service{
		repo:       repo,
		runner:     runner,
		workspace:  workspace,
		nodeDomain: nodeDomain,
		log:        log,
	}
}

// CreateRun creates and persists a pending run with a fresh SRN.
func (s *Service) CreateRun(ctx context.Context) (*validation.Run, error) {
	runSRN, err := srn.NewValidationRunSRN(s.nodeDomain, uuid.NewString())
	if err != nil {
		return nil, err
	}
	run, err := validation.NewRun(runSRN)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// RunHooks executes hooks sequentially against a deposition, halting on
// the first rejected or failed hook. Outputs land in each hook's durable
// workspace; feature insertion is deferred to record publication.
func (s *Service) RunHooks(ctx context.Context, run *validation.Run, dep srn.SRN, inputs oci.HookInputs, specs []oci.HookSpec) (*validation.Run, error) {
	if err := run.Start(time.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, run); err != nil {
		return nil, err
	}

	var results []validation.HookResult
	for _, spec := range specs {
		workDir, err := s.workspace.HookWorkDir(dep, spec.Name)
		if err != nil {
			return nil, err
		}

		result := s.runner.RunHook(ctx, spec, inputs, workDir)
		results = append(results, result)

		s.log.WithComponent("validation").WithFields(logrus.Fields{
			"run":    run.SRN.String(),
			"hook":   spec.Name,
			"status": result.Status,
		}).Info("hook result")

		if result.Status != validation.HookPassed {
			break
		}
	}

	if err := run.Complete(results, time.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Get loads a run by SRN.
func (s *Service) Get(ctx context.Context, runSRN srn.SRN) (*validation.Run, error) {
	return s.repo.Get(ctx, runSRN)
}
