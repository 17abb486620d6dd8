package deploy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"scriptflow/internal/credential"
	"scriptflow/internal/gate"
	"scriptflow/internal/integration"
	"scriptflow/internal/platform"
	"scriptflow/internal/script"
)

const slackReportScript = `
slack = integrations.slack.init()

def report():
    slack.send("#general", ai.summarize("daily numbers"))

on_schedule("*/5 * * * *", report)
`

type fakeRegistrar struct {
	mu         sync.Mutex
	registered map[string]bool
	failNext   bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: make(map[string]bool)}
}

func (f *fakeRegistrar) Register(dep *Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.registered[dep.ID] = true
	return nil
}

func (f *fakeRegistrar) Unregister(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, id)
}

func (f *fakeRegistrar) Pause(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[id] = false
}

func (f *fakeRegistrar) Resume(dep *Deployment) error {
	return f.Register(dep)
}

func (f *fakeRegistrar) armed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[id]
}

type serviceFixture struct {
	svc       *Service
	store     *MemoryStore
	creds     *credential.MemoryStore
	registrar *fakeRegistrar
}

func newServiceFixture() *serviceFixture {
	integrations := integration.NewRegistry()
	extractor := script.NewExtractor(integrations)
	sdk := script.NewSDK(script.NewRegistry(), integrations)
	pipeline := gate.NewPipeline(extractor, gate.NewSecurity(nil), gate.NewCorrectness(sdk))

	store := NewMemoryStore()
	creds := credential.NewMemoryStore()
	registrar := newFakeRegistrar()
	svc := NewService(store, pipeline, creds, integrations, registrar, zerolog.Nop())
	return &serviceFixture{svc: svc, store: store, creds: creds, registrar: registrar}
}

func (f *serviceFixture) connectSlack(t *testing.T) {
	t.Helper()
	err := f.creds.Save(context.Background(), "user-1", "slack",
		map[string]string{"bot_token": "xoxb-test"})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeploy_MissingCredentialRejected(t *testing.T) {
	// A valid script referencing a disconnected integration must produce a
	// user-facing config error with an action URL, and no deployment.
	f := newServiceFixture()
	dep, _, err := f.svc.Deploy(context.Background(), "user-1", "", []byte(slackReportScript), nil)
	if err == nil {
		t.Fatal("deploy succeeded without slack credentials")
	}
	if dep != nil {
		t.Errorf("deployment returned despite rejection: %+v", dep)
	}

	perr := platform.AsError(err)
	if perr.Kind != platform.KindUserConfig {
		t.Errorf("Kind = %s, want UserFacingConfigError", perr.Kind)
	}
	if perr.Code != "INTEGRATION_NOT_CONFIGURED" || perr.Integration != "slack" {
		t.Errorf("error = %+v", perr)
	}
	if !strings.Contains(perr.ActionURL, "slack") {
		t.Errorf("ActionURL = %q, want slack setup link", perr.ActionURL)
	}

	deps, _ := f.store.List(context.Background(), "user-1")
	if len(deps) != 0 {
		t.Errorf("deployment persisted despite rejection: %+v", deps)
	}
}

func TestDeploy_Success(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)

	dep, report, err := f.svc.Deploy(context.Background(), "user-1", "daily-report", []byte(slackReportScript), nil)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != StatusActive {
		t.Errorf("Status = %s, want active", dep.Status)
	}
	if !strings.HasPrefix(dep.ID, "dep_") {
		t.Errorf("ID = %q", dep.ID)
	}
	if !f.registrar.armed(dep.ID) {
		t.Error("triggers not armed")
	}
	if len(report.Manifest.Triggers) != 1 || report.Manifest.Triggers[0].Config["cron"] != "*/5 * * * *" {
		t.Errorf("manifest = %+v", report.Manifest)
	}

	got, err := f.svc.Get(context.Background(), "user-1", dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "daily-report" {
		t.Errorf("Name = %q", got.Name)
	}
}

func TestDeploy_NameGenerated(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)

	dep, _, err := f.svc.Deploy(context.Background(), "user-1", "", []byte(slackReportScript), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(dep.Name, "deployment_") {
		t.Errorf("Name = %q, want generated deployment_ prefix", dep.Name)
	}
}

func TestDeploy_BlockedScript(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)

	_, report, err := f.svc.Deploy(context.Background(), "user-1", "", []byte(`load("os", "system")`), nil)
	if err == nil {
		t.Fatal("denied import deployed")
	}
	if !platform.IsKind(err, platform.KindAgentFixable) {
		t.Errorf("err = %v, want AgentFixableError", err)
	}
	if report == nil || report.Valid {
		t.Errorf("report = %+v", report)
	}
}

func TestDeploy_MetadataCrossCheck(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)
	ctx := context.Background()

	// Declared metadata that matches the script passes.
	declared := &Metadata{Integrations: []string{"slack"}, Triggers: []string{"report"}}
	dep, _, err := f.svc.Deploy(ctx, "user-1", "", []byte(slackReportScript), declared)
	if err != nil {
		t.Fatal(err)
	}
	if dep.ScriptVersion != VersionOf([]byte(slackReportScript)) {
		t.Errorf("ScriptVersion = %q", dep.ScriptVersion)
	}

	mismatches := []*Metadata{
		{Integrations: []string{"gmail"}},          // declared but unused
		{Integrations: []string{"slack", "gmail"}}, // extra declaration
		{Triggers: []string{"nightly"}},            // no such trigger target
		{Integrations: []string{"slack"}, Triggers: []string{"nope"}},
	}
	for _, m := range mismatches {
		_, _, err := f.svc.Deploy(ctx, "user-1", "", []byte(slackReportScript), m)
		if err == nil {
			t.Errorf("metadata %+v deployed despite mismatch", m)
			continue
		}
		perr := platform.AsError(err)
		if perr.Kind != platform.KindAgentFixable || perr.Code != "METADATA_MISMATCH" {
			t.Errorf("metadata %+v: error = %+v", m, perr)
		}
	}
}

func TestDeploy_RegistrarFailureRollsBack(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)
	f.registrar.failNext = true

	_, _, err := f.svc.Deploy(context.Background(), "user-1", "x", []byte(slackReportScript), nil)
	if err == nil {
		t.Fatal("deploy succeeded despite registrar failure")
	}
	if !platform.IsKind(err, platform.KindInternal) {
		t.Errorf("err = %v, want InternalError", err)
	}

	deps, _ := f.store.List(context.Background(), "user-1")
	for _, dep := range deps {
		if dep.Status != StatusError {
			t.Errorf("deployment left in %s after rollback", dep.Status)
		}
	}
}

func TestPauseResumeDelete(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)
	ctx := context.Background()

	dep, _, err := f.svc.Deploy(ctx, "user-1", "x", []byte(slackReportScript), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Pause(ctx, "user-1", dep.ID); err != nil {
		t.Fatal(err)
	}
	if f.registrar.armed(dep.ID) {
		t.Error("triggers still armed after pause")
	}
	// Pause is idempotent.
	if err := f.svc.Pause(ctx, "user-1", dep.ID); err != nil {
		t.Errorf("second pause: %v", err)
	}

	if err := f.svc.Resume(ctx, "user-1", dep.ID); err != nil {
		t.Fatal(err)
	}
	if !f.registrar.armed(dep.ID) {
		t.Error("triggers not re-armed after resume")
	}

	if err := f.svc.Delete(ctx, "user-1", dep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(ctx, "user-1", dep.ID); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	// Deleted is terminal.
	if err := f.svc.Resume(ctx, "user-1", dep.ID); err != ErrNotFound {
		t.Errorf("Resume after delete = %v, want ErrNotFound", err)
	}
}

type failingStore struct {
	*MemoryStore
	failSetStatus bool
}

func (f *failingStore) SetStatus(ctx context.Context, id, status, errorDetail string) error {
	if f.failSetStatus {
		return errors.New("connection refused")
	}
	return f.MemoryStore.SetStatus(ctx, id, status, errorDetail)
}

func TestPause_StorageFailureIsInternal(t *testing.T) {
	// A storage failure during pause is a platform fault, not a script defect;
	// only a state-machine violation may surface as agent-fixable.
	integrations := integration.NewRegistry()
	extractor := script.NewExtractor(integrations)
	sdk := script.NewSDK(script.NewRegistry(), integrations)
	pipeline := gate.NewPipeline(extractor, gate.NewSecurity(nil), gate.NewCorrectness(sdk))

	store := &failingStore{MemoryStore: NewMemoryStore()}
	creds := credential.NewMemoryStore()
	svc := NewService(store, pipeline, creds, integrations, newFakeRegistrar(), zerolog.Nop())
	ctx := context.Background()

	if err := creds.Save(ctx, "user-1", "slack", map[string]string{"bot_token": "xoxb-test"}); err != nil {
		t.Fatal(err)
	}
	dep, _, err := svc.Deploy(ctx, "user-1", "x", []byte(slackReportScript), nil)
	if err != nil {
		t.Fatal(err)
	}

	store.failSetStatus = true
	err = svc.Pause(ctx, "user-1", dep.ID)
	if !platform.IsKind(err, platform.KindInternal) {
		t.Errorf("Pause with failing store = %v, want InternalError", err)
	}
	err = svc.Resume(ctx, "user-1", dep.ID)
	if !platform.IsKind(err, platform.KindInternal) {
		t.Errorf("Resume with failing store = %v, want InternalError", err)
	}
}

func TestSetStatus_IllegalTransitionSentinel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	dep := &Deployment{ID: NewDeploymentID(), UserID: "user-1", Status: StatusPending}
	if err := store.Create(ctx, dep); err != nil {
		t.Fatal(err)
	}

	err := store.SetStatus(ctx, dep.ID, StatusPaused, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("pending -> paused = %v, want ErrIllegalTransition", err)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	f := newServiceFixture()
	f.connectSlack(t)
	ctx := context.Background()

	dep, _, err := f.svc.Deploy(ctx, "user-1", "x", []byte(slackReportScript), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(ctx, "user-2", dep.ID); err != ErrNotFound {
		t.Errorf("cross-user Get = %v, want ErrNotFound", err)
	}
	if err := f.svc.Delete(ctx, "user-2", dep.ID); err != ErrNotFound {
		t.Errorf("cross-user Delete = %v, want ErrNotFound", err)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{StatusPending, StatusActive, true},
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusDeleted, true},
		{StatusError, StatusActive, true},
		{StatusDeleted, StatusActive, false},
		{StatusPending, StatusPaused, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
