package validation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

// memRepo keeps runs in memory.
type memRepo struct {
	runs map[string]validation.Run
}

func newMemRepo() *memRepo { return &memRepo{runs: map[string]validation.Run{}} }

func (r *memRepo) Save(ctx context.Context, run *validation.Run) error {
	r.runs[run.SRN.String()] = *run
	return nil
}

func (r *memRepo) Get(ctx context.Context, runSRN srn.SRN) (*validation.Run, error) {
	run, ok := r.runs[runSRN.String()]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return &run, nil
}

// scriptedRunner returns a canned result per hook name.
type scriptedRunner struct {
	results map[string]validation.HookResult
	ran     []string
}

func (r *scriptedRunner) RunHook(ctx context.Context, spec oci.HookSpec, inputs oci.HookInputs, workDir string) validation.HookResult {
	r.ran = append(r.ran, spec.Name)
	return r.results[spec.Name]
}

// tmpWorkspace hands every hook the same temp dir.
type tmpWorkspace struct{ root string }

func (w tmpWorkspace) HookWorkDir(dep srn.SRN, hookName string) (string, error) {
	return w.root, nil
}

func testService(t *testing.T, runner HookRunner) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	svc := NewService(repo, runner, tmpWorkspace{root: t.TempDir()}, "example.org",
		logging.New("test", "error", "text"))
	return svc, repo
}

func depSRN(t *testing.T) srn.SRN {
	t.Helper()
	s, err := srn.NewDepositionSRN("example.org", "dep-1")
	require.NoError(t, err)
	return s
}

func TestCreateRun(t *testing.T) {
	svc, repo := testService(t, &scriptedRunner{})

	run, err := svc.CreateRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, validation.RunPending, run.Status)
	assert.Equal(t, srn.KindValidationRun, run.SRN.Kind)
	assert.Contains(t, repo.runs, run.SRN.String())
}

func TestRunHooks_AllPass(t *testing.T) {
	runner := &scriptedRunner{results: map[string]validation.HookResult{
		"schema_check":  {HookName: "schema_check", Status: validation.HookPassed},
		"pocket_detect": {HookName: "pocket_detect", Status: validation.HookPassed},
	}}
	svc, repo := testService(t, runner)

	run, err := svc.CreateRun(context.Background())
	require.NoError(t, err)

	run, err = svc.RunHooks(context.Background(), run, depSRN(t), oci.HookInputs{}, []oci.HookSpec{
		{Name: "schema_check"},
		{Name: "pocket_detect"},
	})
	require.NoError(t, err)

	assert.Equal(t, validation.RunCompleted, run.Status)
	assert.Equal(t, []string{"schema_check", "pocket_detect"}, runner.ran)
	assert.Len(t, run.Results, 2)

	persisted := repo.runs[run.SRN.String()]
	assert.Equal(t, validation.RunCompleted, persisted.Status)
	assert.NotNil(t, persisted.CompletedAt)
}

func TestRunHooks_HaltsOnRejection(t *testing.T) {
	runner := &scriptedRunner{results: map[string]validation.HookResult{
		"schema_check": {HookName: "schema_check", Status: validation.HookRejected, RejectionReason: "missing coordinates"},
		"never_runs":   {HookName: "never_runs", Status: validation.HookPassed},
	}}
	svc, _ := testService(t, runner)

	run, err := svc.CreateRun(context.Background())
	require.NoError(t, err)

	run, err = svc.RunHooks(context.Background(), run, depSRN(t), oci.HookInputs{}, []oci.HookSpec{
		{Name: "schema_check"},
		{Name: "never_runs"},
	})
	require.NoError(t, err)

	assert.Equal(t, validation.RunRejected, run.Status)
	// Execution halts on the first non-passing hook.
	assert.Equal(t, []string{"schema_check"}, runner.ran)
	assert.Equal(t, []string{"missing coordinates"}, run.FailureReasons())
}

func TestRunHooks_FailedHook(t *testing.T) {
	runner := &scriptedRunner{results: map[string]validation.HookResult{
		"schema_check": {HookName: "schema_check", Status: validation.HookFailed, ErrorMessage: "hook timed out after 300s"},
	}}
	svc, _ := testService(t, runner)

	run, err := svc.CreateRun(context.Background())
	require.NoError(t, err)

	run, err = svc.RunHooks(context.Background(), run, depSRN(t), oci.HookInputs{}, []oci.HookSpec{
		{Name: "schema_check"},
	})
	require.NoError(t, err)
	assert.Equal(t, validation.RunFailed, run.Status)
}
