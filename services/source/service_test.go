package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

type fakeRegistry struct {
	def hook.SourceDefinition
}

func (f fakeRegistry) Source(name string) (hook.SourceDefinition, bool) {
	if name == f.def.Name {
		return f.def, true
	}
	return hook.SourceDefinition{}, false
}

type fakeRunner struct {
	out    oci.SourceOutput
	inputs oci.SourceInputs
}

func (f *fakeRunner) RunSource(ctx context.Context, def hook.SourceDefinition, inputs oci.SourceInputs, filesDir, workDir string) (oci.SourceOutput, error) {
	f.inputs = inputs
	return f.out, nil
}

type fakeWorkspace struct {
	staged []string
}

func (f *fakeWorkspace) SourceFilesDir(sourceName string) (string, error) {
	return "/data/sources/" + sourceName + "/files", nil
}

func (f *fakeWorkspace) SourceWorkDir(sourceName string) (string, error) {
	return "/data/sources/" + sourceName + "/work", nil
}

func (f *fakeWorkspace) StageSourceRecord(sourceName, sourceID string, record map[string]interface{}) (string, error) {
	dir := "/data/sources/" + sourceName + "/staging/" + sourceID
	f.staged = append(f.staged, dir)
	return dir, nil
}

type fakeOutbox struct {
	appended []event.Event
	latest   *event.Event
}

func (f *fakeOutbox) AppendNew(ctx context.Context, evt event.Event) error {
	f.appended = append(f.appended, evt)
	return nil
}

func (f *fakeOutbox) FindLatest(ctx context.Context, eventType string) (*event.Event, error) {
	return f.latest, nil
}

func geoDef() hook.SourceDefinition {
	return hook.SourceDefinition{
		Name:   "geo_entrez",
		Image:  "osa/geo-entrez:0.3",
		Digest: "sha256:def456",
		Limits: hook.DefaultSourceLimits(),
	}
}

func TestRun_EmitsRecordReadyAndCompletion(t *testing.T) {
	runner := &fakeRunner{out: oci.SourceOutput{Records: []map[string]interface{}{
		{"accession": "GSE100", "title": "study one"},
		{"accession": "GSE101", "title": "study two"},
	}}}
	ws := &fakeWorkspace{}
	ob := &fakeOutbox{}

	svc := NewService(fakeRegistry{def: geoDef()}, runner, ws, ob,
		func(string) string { return "urn:osa:example.org:conv:proteomics@1.0.0" },
		logging.New("test", "error", "text"))

	since := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, svc.Run(context.Background(), &event.SourceRequested{
		SourceName: "geo_entrez",
		Since:      &since,
		Limit:      100,
	}))

	// The runner saw the requested window.
	require.NotNil(t, runner.inputs.Since)
	assert.Equal(t, 100, runner.inputs.Limit)

	// One SourceRecordReady per record plus the completion watermark.
	require.Len(t, ob.appended, 3)
	var ready event.SourceRecordReady
	require.NoError(t, event.DecodeAs(ob.appended[0], &ready))
	assert.Equal(t, "gse100", ready.SourceID)
	assert.Equal(t, "urn:osa:example.org:conv:proteomics@1.0.0", ready.ConventionSRN)
	assert.Equal(t, ws.staged[0], ready.StagingDir)

	var completed event.SourceRunCompleted
	require.NoError(t, event.DecodeAs(ob.appended[2], &completed))
	assert.Equal(t, 2, completed.RecordCount)
}

func TestRun_UnknownSource(t *testing.T) {
	svc := NewService(fakeRegistry{def: geoDef()}, &fakeRunner{}, &fakeWorkspace{}, &fakeOutbox{},
		func(string) string { return "" }, logging.New("test", "error", "text"))

	err := svc.Run(context.Background(), &event.SourceRequested{SourceName: "nope"})
	assert.True(t, errors.IsNotFound(err))
}

func TestLastRunCompleted(t *testing.T) {
	completedAt := time.Now().UTC().Truncate(time.Second)
	latest, err := event.New(&event.SourceRunCompleted{
		SourceName:  "geo_entrez",
		RecordCount: 5,
		CompletedAt: completedAt,
	})
	require.NoError(t, err)

	svc := NewService(fakeRegistry{def: geoDef()}, &fakeRunner{}, &fakeWorkspace{},
		&fakeOutbox{latest: &latest},
		func(string) string { return "" }, logging.New("test", "error", "text"))

	got, err := svc.LastRunCompleted(context.Background(), "geo_entrez")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, completedAt.Equal(*got))

	// A watermark from a different source does not apply.
	got, err = svc.LastRunCompleted(context.Background(), "other_source")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "gse100", sanitizeID("GSE100"))
	assert.Equal(t, "a-b_c", sanitizeID("a-b_c"))
	assert.Equal(t, "a-b-c", sanitizeID("a/b:c"))
	assert.NotEmpty(t, sanitizeID(""))
}
