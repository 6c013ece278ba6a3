package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/deposition"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/oci"
)

func testLog() *logging.Logger { return logging.New("test", "error", "text") }

func mustEvent(t *testing.T, payload event.Payload) event.Event {
	t.Helper()
	evt, err := event.New(payload)
	require.NoError(t, err)
	return evt
}

// fakeOutbox records appended events.
type fakeOutbox struct {
	appended []event.Event
}

func (o *fakeOutbox) AppendNew(ctx context.Context, evt event.Event) error {
	o.appended = append(o.appended, evt)
	return nil
}

func (o *fakeOutbox) typesAppended() []string {
	var types []string
	for _, e := range o.appended {
		types = append(types, e.Type)
	}
	return types
}

// fakeDepositions tracks calls to the deposition surface.
type fakeDepositions struct {
	created   *deposition.Deposition
	calls     []string
	missing   bool
	published *deposition.Deposition
}

func (f *fakeDepositions) dep(t *testing.T) *deposition.Deposition {
	t.Helper()
	depSRN, err := srn.NewDepositionSRN("example.org", "dep-1")
	require.NoError(t, err)
	conv, err := srn.NewConventionSRN("example.org", "proteomics", "1.0.0")
	require.NoError(t, err)
	d, err := deposition.New(depSRN, conv, auth.SystemUserID, time.Now())
	require.NoError(t, err)
	return d
}

func (f *fakeDepositions) Create(ctx context.Context, identity auth.Identity, conventionSRN srn.SRN, ownerID string) (*deposition.Deposition, error) {
	f.calls = append(f.calls, "create")
	return f.created, nil
}

func (f *fakeDepositions) Get(ctx context.Context, identity auth.Identity, depSRN srn.SRN) (*deposition.Deposition, error) {
	f.calls = append(f.calls, "get")
	if f.missing {
		return nil, errors.NotFound("deposition", depSRN.String())
	}
	return f.created, nil
}

func (f *fakeDepositions) UpdateMetadata(ctx context.Context, identity auth.Identity, depSRN srn.SRN, metadata map[string]interface{}) (*deposition.Deposition, error) {
	f.calls = append(f.calls, "update_metadata")
	return f.created, nil
}

func (f *fakeDepositions) Submit(ctx context.Context, identity auth.Identity, depSRN srn.SRN) error {
	f.calls = append(f.calls, "submit")
	return nil
}

func (f *fakeDepositions) ReturnToDraft(ctx context.Context, depSRN srn.SRN) error {
	f.calls = append(f.calls, "return_to_draft")
	if f.missing {
		return errors.NotFound("deposition", depSRN.String())
	}
	return nil
}

func (f *fakeDepositions) Publish(ctx context.Context, identity auth.Identity, depSRN srn.SRN) (*deposition.Deposition, error) {
	f.calls = append(f.calls, "publish")
	return f.published, nil
}

// fakeStorage implements the workspace surface.
type fakeStorage struct {
	moved    []string
	features map[string][]map[string]interface{}
}

func (f *fakeStorage) MoveSourceFilesToDeposition(stagingDir string, dep srn.SRN) error {
	f.moved = append(f.moved, stagingDir)
	return nil
}

func (f *fakeStorage) HookFeaturesExist(dep srn.SRN, hookName string) bool {
	_, ok := f.features[hookName]
	return ok
}

func (f *fakeStorage) ReadHookFeatures(dep srn.SRN, hookName string) ([]map[string]interface{}, error) {
	return f.features[hookName], nil
}

func (f *fakeStorage) DepositionFilesDir(dep srn.SRN) (string, error) {
	return "/data/depositions/" + dep.Local + "/files", nil
}

// fakeNode resolves hooks per convention.
type fakeNode struct {
	hooks []hook.Definition
}

func (f *fakeNode) HooksFor(conventionSRN string) []hook.Definition { return f.hooks }

// fakeValidations scripts the validation service.
type fakeValidations struct {
	run       *validation.Run
	outcome   validation.RunStatus
	ranSpecs  []oci.HookSpec
	created   bool
	runsAsked []string
}

func (f *fakeValidations) CreateRun(ctx context.Context) (*validation.Run, error) {
	f.created = true
	return f.run, nil
}

func (f *fakeValidations) Get(ctx context.Context, runSRN srn.SRN) (*validation.Run, error) {
	f.runsAsked = append(f.runsAsked, runSRN.String())
	return f.run, nil
}

func (f *fakeValidations) RunHooks(ctx context.Context, run *validation.Run, dep srn.SRN, inputs oci.HookInputs, specs []oci.HookSpec) (*validation.Run, error) {
	f.ranSpecs = specs
	run.Status = f.outcome
	if f.outcome == validation.RunRejected {
		run.Results = []validation.HookResult{{
			HookName:        "geo_check",
			Status:          validation.HookRejected,
			RejectionReason: "missing coordinates",
		}}
	}
	return run, nil
}

// fakeFeatures records inserts.
type fakeFeatures struct {
	inserted map[string]int
}

func (f *fakeFeatures) InsertFeatures(ctx context.Context, hookName, recordSRN string, rows []map[string]interface{}) (int, error) {
	if f.inserted == nil {
		f.inserted = map[string]int{}
	}
	f.inserted[hookName] = len(rows)
	return len(rows), nil
}

func pocketHook() hook.Definition {
	return hook.Definition{
		Image:  "osa/pocket:1",
		Digest: "sha256:aa",
		Limits: hook.DefaultLimits(),
		Manifest: hook.Manifest{
			Name:          "pocket_detect",
			RecordSchema:  "protein",
			Cardinality:   hook.CardinalityOne,
			FeatureSchema: hook.FeatureSchema{},
		},
	}
}

func TestCreateDepositionFromSource(t *testing.T) {
	deps := &fakeDepositions{}
	deps.created = deps.dep(t)
	storage := &fakeStorage{}

	h := &CreateDepositionFromSource{Depositions: deps, Storage: storage, Log: testLog()}
	evt := mustEvent(t, &event.SourceRecordReady{
		SourceName:    "geo_entrez",
		SourceID:      "gse100",
		ConventionSRN: "urn:osa:example.org:conv:proteomics@1.0.0",
		Metadata:      map[string]interface{}{"accession": "GSE100"},
		StagingDir:    "/data/sources/geo_entrez/staging/gse100",
	})

	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, []string{"create", "update_metadata", "submit"}, deps.calls)
	assert.Equal(t, []string{"/data/sources/geo_entrez/staging/gse100"}, storage.moved)
}

func TestBeginValidation(t *testing.T) {
	runSRN, err := srn.NewValidationRunSRN("example.org", "run-1")
	require.NoError(t, err)
	run, err := validation.NewRun(runSRN)
	require.NoError(t, err)

	vals := &fakeValidations{run: run}
	ob := &fakeOutbox{}
	h := &BeginValidation{
		Validations: vals,
		Node:        &fakeNode{hooks: []hook.Definition{pocketHook()}},
		Outbox:      ob,
		Log:         testLog(),
	}

	evt := mustEvent(t, &event.DepositionSubmitted{
		DepositionSRN: "urn:osa:example.org:dep:dep-1",
		ConventionSRN: "urn:osa:example.org:conv:proteomics@1.0.0",
	})
	require.NoError(t, h.Handle(context.Background(), evt))

	assert.True(t, vals.created)
	require.Equal(t, []string{event.TypeValidationRequested}, ob.typesAppended())

	var requested event.ValidationRequested
	require.NoError(t, event.DecodeAs(ob.appended[0], &requested))
	assert.Equal(t, run.SRN.String(), requested.RunSRN)
	require.Len(t, requested.Hooks, 1)
	assert.Equal(t, "pocket_detect", requested.Hooks[0].Name)
	assert.Equal(t, "sha256:aa", requested.Hooks[0].Digest)
}

func runValidationFixture(t *testing.T, outcome validation.RunStatus) (*RunValidation, *fakeOutbox, event.Event) {
	t.Helper()
	runSRN, err := srn.NewValidationRunSRN("example.org", "run-1")
	require.NoError(t, err)
	run, err := validation.NewRun(runSRN)
	require.NoError(t, err)

	deps := &fakeDepositions{}
	deps.created = deps.dep(t)
	ob := &fakeOutbox{}
	h := &RunValidation{
		Validations: &fakeValidations{run: run, outcome: outcome},
		Depositions: deps,
		Storage:     &fakeStorage{},
		Outbox:      ob,
		Log:         testLog(),
	}

	evt := mustEvent(t, &event.ValidationRequested{
		DepositionSRN: "urn:osa:example.org:dep:dep-1",
		RunSRN:        runSRN.String(),
		Hooks:         []event.HookSnapshot{{Name: "pocket_detect", Image: "osa/pocket:1", Digest: "sha256:aa", Limits: hook.DefaultLimits()}},
	})
	return h, ob, evt
}

func TestRunValidation_Completed(t *testing.T) {
	h, ob, evt := runValidationFixture(t, validation.RunCompleted)
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, []string{event.TypeValidationCompleted}, ob.typesAppended())
}

func TestRunValidation_RejectedEmitsFailureWithReasons(t *testing.T) {
	h, ob, evt := runValidationFixture(t, validation.RunRejected)
	require.NoError(t, h.Handle(context.Background(), evt))
	require.Equal(t, []string{event.TypeValidationFailed}, ob.typesAppended())

	var failed event.ValidationFailed
	require.NoError(t, event.DecodeAs(ob.appended[0], &failed))
	assert.Equal(t, []string{"missing coordinates"}, failed.Reasons)
}

func TestRunValidation_TerminalRunIsNoop(t *testing.T) {
	h, ob, evt := runValidationFixture(t, validation.RunCompleted)
	// Simulate a re-delivered event for an already-finished run.
	vals := h.Validations.(*fakeValidations)
	vals.run.Status = validation.RunCompleted

	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Empty(t, ob.appended)
	assert.Nil(t, vals.ranSpecs)
}

func TestReturnToDraft_MissingDepositionIsNoop(t *testing.T) {
	deps := &fakeDepositions{missing: true}
	h := &ReturnToDraft{Depositions: deps, Log: testLog()}

	evt := mustEvent(t, &event.ValidationFailed{
		DepositionSRN: "urn:osa:example.org:dep:gone",
		RunSRN:        "urn:osa:example.org:val:run-1",
		Reasons:       []string{"missing coordinates"},
	})
	assert.NoError(t, h.Handle(context.Background(), evt))
}

func TestPublishOnValidation(t *testing.T) {
	deps := &fakeDepositions{}
	deps.published = deps.dep(t)
	h := &PublishOnValidation{Depositions: deps, Log: testLog()}

	evt := mustEvent(t, &event.ValidationCompleted{
		DepositionSRN: "urn:osa:example.org:dep:dep-1",
		RunSRN:        "urn:osa:example.org:val:run-1",
	})
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, []string{"publish"}, deps.calls)
}

func TestInsertRecordFeatures(t *testing.T) {
	features := &fakeFeatures{}
	storage := &fakeStorage{features: map[string][]map[string]interface{}{
		"pocket_detect": {{"pocket_count": 3}, {"pocket_count": 1}},
	}}
	h := &InsertRecordFeatures{
		Node:     &fakeNode{hooks: []hook.Definition{pocketHook()}},
		Storage:  storage,
		Features: features,
		Log:      testLog(),
	}

	evt := mustEvent(t, &event.RecordPublished{
		RecordSRN:     "urn:osa:example.org:rec:dep-1@1",
		DepositionSRN: "urn:osa:example.org:dep:dep-1",
		ConventionSRN: "urn:osa:example.org:conv:proteomics@1.0.0",
	})
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, 2, features.inserted["pocket_detect"])
}

func TestInsertRecordFeatures_SkipsHooksWithoutOutput(t *testing.T) {
	features := &fakeFeatures{}
	h := &InsertRecordFeatures{
		Node:     &fakeNode{hooks: []hook.Definition{pocketHook()}},
		Storage:  &fakeStorage{},
		Features: features,
		Log:      testLog(),
	}

	evt := mustEvent(t, &event.RecordPublished{
		RecordSRN:     "urn:osa:example.org:rec:dep-1@1",
		DepositionSRN: "urn:osa:example.org:dep:dep-1",
		ConventionSRN: "urn:osa:example.org:conv:proteomics@1.0.0",
	})
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Empty(t, features.inserted)
}

func TestFanOutToIndexBackends(t *testing.T) {
	ob := &fakeOutbox{}
	h := &FanOutToIndexBackends{Backends: []string{BackendKeyword, BackendVector}, Outbox: ob}

	evt := mustEvent(t, &event.RecordPublished{
		RecordSRN:     "urn:osa:example.org:rec:dep-1@1",
		DepositionSRN: "urn:osa:example.org:dep:dep-1",
		ConventionSRN: "urn:osa:example.org:conv:proteomics@1.0.0",
	})
	require.NoError(t, h.Handle(context.Background(), evt))
	require.Len(t, ob.appended, 2)

	var first event.IndexRecord
	require.NoError(t, event.DecodeAs(ob.appended[0], &first))
	assert.Equal(t, BackendKeyword, first.Backend)
}

// captureBackend records ingested batches.
type captureBackend struct {
	batches [][]event.RecordPublished
}

func (b *captureBackend) IngestBatch(ctx context.Context, records []event.RecordPublished) error {
	b.batches = append(b.batches, records)
	return nil
}

func TestIndexHandler_BatchIngestion(t *testing.T) {
	sink := &captureBackend{}
	h := NewVectorIndexHandler(sink)

	events := []event.Event{
		mustEvent(t, &event.RecordPublished{RecordSRN: "urn:osa:example.org:rec:a@1", DepositionSRN: "urn:osa:example.org:dep:a", ConventionSRN: "urn:osa:example.org:conv:c@1.0.0"}),
		mustEvent(t, &event.RecordPublished{RecordSRN: "urn:osa:example.org:rec:b@1", DepositionSRN: "urn:osa:example.org:dep:b", ConventionSRN: "urn:osa:example.org:conv:c@1.0.0"}),
	}
	require.NoError(t, h.HandleBatch(context.Background(), events))

	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 2)
	assert.Equal(t, "urn:osa:example.org:rec:a@1", sink.batches[0][0].RecordSRN)
}

func TestTriggerInitialSourceRun(t *testing.T) {
	ob := &fakeOutbox{}
	h := &TriggerInitialSourceRun{
		Sources: []hook.SourceDefinition{
			{Name: "geo_entrez", Image: "i", Digest: "d", InitialRun: &hook.InitialRunConfig{Enabled: true, Limit: 10}},
			{Name: "disabled_src", Image: "i", Digest: "d"},
		},
		Outbox: ob,
		Log:    testLog(),
	}

	evt := mustEvent(t, &event.ServerStarted{StartedAt: time.Now().UTC()})
	require.NoError(t, h.Handle(context.Background(), evt))
	require.Len(t, ob.appended, 1)

	var req event.SourceRequested
	require.NoError(t, event.DecodeAs(ob.appended[0], &req))
	assert.Equal(t, "geo_entrez", req.SourceName)
	assert.Equal(t, 10, req.Limit)
}

func TestRegistryCoversPipeline(t *testing.T) {
	log := testLog()
	handlersList := Registry(Deps{Log: log, Keyword: &LogIndexBackend{Backend: BackendKeyword, Log: log}, Vector: &LogIndexBackend{Backend: BackendVector, Log: log}})

	names := map[string]string{}
	for _, h := range handlersList {
		names[h.Name()] = h.EventType()
	}

	assert.Equal(t, event.TypeSourceRecordReady, names["CreateDepositionFromSource"])
	assert.Equal(t, event.TypeDepositionSubmitted, names["BeginValidation"])
	assert.Equal(t, event.TypeValidationFailed, names["ReturnToDraft"])
	assert.Equal(t, event.TypeRecordPublished, names["InsertRecordFeatures"])
	assert.Equal(t, event.TypeRecordPublished, names["FanOutToIndexBackends"])
	assert.Equal(t, event.TypeRecordPublished, names["KeywordIndexHandler"])
	assert.Equal(t, event.TypeRecordPublished, names["VectorIndexHandler"])
	assert.Len(t, handlersList, 11)

	// The four subscribers to RecordPublished drive feature insertion
	// and index fan-out.
	var recordSubscribers []string
	for name, eventType := range names {
		if eventType == event.TypeRecordPublished {
			recordSubscribers = append(recordSubscribers, name)
		}
	}
	assert.ElementsMatch(t, []string{
		"InsertRecordFeatures",
		"FanOutToIndexBackends",
		"KeywordIndexHandler",
		"VectorIndexHandler",
	}, recordSubscribers)
}
