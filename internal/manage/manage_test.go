package manage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/logging"
	"github.com/scorehub/scorehub/internal/manage"
	"github.com/scorehub/scorehub/internal/pipeline"
	"github.com/scorehub/scorehub/internal/registry"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/storage"
	"github.com/scorehub/scorehub/internal/validation"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

// stubBackend satisfies the executor capability for facade tests. It writes
// the prediction artifact, like a real inference container would.
type stubBackend struct{}

func (stubBackend) Name() string { return "stub" }

func (stubBackend) Execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) api.Envelope[api.RunInfo] {
	path := filepath.Join(descriptor.Path, "output", "pred.csv")
	if err := os.WriteFile(path, []byte("1,cat\n2,cat\n3,cat\n"), 0o644); err != nil {
		return api.Failure[api.RunInfo](api.CodeBackend, api.StageExecution, err.Error(), nil)
	}
	exit := 0
	return api.Success(api.RunInfo{ID: "attempt-1", Backend: "stub", Image: descriptor.Metadata.Image, ExitCode: &exit})
}

// newManager wires a facade over real components. store may be nil to
// exercise the history-unavailable paths.
func newManager(t *testing.T, store abstractions.Storage) *manage.Manager {
	t.Helper()
	logger := logging.FallbackLogger()
	validate, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	workspaces, err := workspace.NewManager(logger, validate)
	if err != nil {
		t.Fatalf("Failed to create workspace manager: %v", err)
	}
	reg, err := registry.New(logger, validate, store)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	t.Cleanup(reg.Close)
	engine := scoring.NewEngine(logger, workspaces)
	orchestrator := pipeline.New(logger, workspaces, reg, stubBackend{}, engine, store, nil)
	return manage.NewManager(logger, validate, reg, workspaces, engine, orchestrator, store)
}

// newStore opens a named in-memory sqlite database, unique per test so the
// shared cache never leaks state across tests.
func newStore(t *testing.T, name string) abstractions.Storage {
	t.Helper()
	databaseConfig := map[string]any{
		"driver":        "sqlite",
		"url":           fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		"database_name": "scorehub",
	}
	store, err := storage.NewStorage(&databaseConfig, logging.FallbackLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func assertFailure[T any](t *testing.T, envelope api.Envelope[T], code api.ErrorCode, stage api.Stage) {
	t.Helper()
	if envelope.OK() {
		t.Fatalf("Expected failure with code %s, got success", code)
	}
	if envelope.Error.Code != code {
		t.Fatalf("Expected code %s, got %s (%s)", code, envelope.Error.Code, envelope.Error.Message)
	}
	if envelope.Error.Stage != stage {
		t.Fatalf("Expected stage %s, got %s", stage, envelope.Error.Stage)
	}
}

func f1Config() api.ScorerConfig {
	return api.ScorerConfig{Name: "f1", Algorithm: "f1", Version: "1.0.0"}
}

func writePack(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pack.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

// scoringWorkspace lays out a classification workspace whose predictions
// miss one of three labels, giving a weighted F1 of 1.6/3.
func scoringWorkspace(t *testing.T, metadata string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"job.json":        metadata,
		"input/gt.csv":    "1,cat\n2,dog\n3,cat\n",
		"output/pred.csv": "1,cat\n2,cat\n3,cat\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestRunPipelineThroughFacade(t *testing.T) {
	store := newStore(t, "manage_run")
	manager := newManager(t, store)
	ctx := context.Background()

	if registered := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()}); !registered.OK() {
		t.Fatalf("Failed to register f1: %+v", registered.Error)
	}
	dir := scoringWorkspace(t, `{"scorer": "f1", "image": "quay.io/org/job:1", "params": {"pass_threshold": 0.5}}`)

	envelope := manager.Run(ctx, &api.RunPipelineRequest{WorkspacePath: dir})
	if !envelope.OK() {
		t.Fatalf("Expected success, got %+v", envelope.Error)
	}
	if envelope.Value.Run == nil || envelope.Value.Run.Backend != "stub" {
		t.Fatalf("Expected run info from the backend, got %+v", envelope.Value.Run)
	}
	if envelope.Value.Result == nil || !envelope.Value.Result.Pass {
		t.Fatalf("Expected a passing result, got %+v", envelope.Value.Result)
	}

	runs := manager.ListRuns(ctx, nil)
	if !runs.OK() || runs.Value.TotalCount != 1 {
		t.Fatalf("Expected one history row, got %+v", runs.Value)
	}
	if runs.Value.Items[0].State != api.RunStateCompleted {
		t.Fatalf("Expected a completed record, got %s", runs.Value.Items[0].State)
	}

	scoreOnly := manager.Run(ctx, &api.RunPipelineRequest{WorkspacePath: dir, Mode: "score_only"})
	if !scoreOnly.OK() {
		t.Fatalf("Expected success, got %+v", scoreOnly.Error)
	}
	if scoreOnly.Value.Run != nil {
		t.Fatalf("Expected no run info in score-only mode")
	}

	assertFailure(t, manager.Run(ctx, &api.RunPipelineRequest{WorkspacePath: dir, Mode: "sideways"}), api.CodeValidation, api.StageValidation)
	assertFailure(t, manager.Run(ctx, &api.RunPipelineRequest{}), api.CodeValidation, api.StageValidation)
	assertFailure(t, manager.Run(ctx, nil), api.CodeValidation, api.StageValidation)
}

func TestRegisterLifecycle(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	registered := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()})
	if !registered.OK() {
		t.Fatalf("Expected success, got %+v", registered.Error)
	}
	if registered.Value.Name != "f1" || registered.Value.Source != manage.InlineSource {
		t.Fatalf("Expected f1 from the inline source, got %+v", registered.Value)
	}

	duplicate := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()})
	assertFailure(t, duplicate, api.CodeDuplicateName, api.StageRegistry)

	replaced := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config(), Source: "ops", Replace: true})
	if !replaced.OK() {
		t.Fatalf("Expected the replace to succeed, got %+v", replaced.Error)
	}
	if replaced.Value.Source != "ops" {
		t.Fatalf("Expected the replacing source, got %q", replaced.Value.Source)
	}

	resolved := manager.Resolve(ctx, "f1")
	if !resolved.OK() || resolved.Value.Name != "f1" {
		t.Fatalf("Expected to resolve f1, got %+v", resolved)
	}
	assertFailure(t, manager.Resolve(ctx, "ghost"), api.CodeScorerNotFound, api.StageRegistry)
	assertFailure(t, manager.Resolve(ctx, ""), api.CodeValidation, api.StageRegistry)

	listing := manager.List(ctx)
	if !listing.OK() || listing.Value.TotalCount != 1 {
		t.Fatalf("Expected one registration, got %+v", listing.Value)
	}

	removed := manager.Unregister(ctx, "f1")
	if !removed.OK() || removed.Value.Name != "f1" {
		t.Fatalf("Expected the removed listing view, got %+v", removed.Value)
	}
	assertFailure(t, manager.Unregister(ctx, "f1"), api.CodeScorerNotFound, api.StageRegistry)

	if final := manager.List(ctx); final.Value.TotalCount != 0 {
		t.Fatalf("Expected an empty registry, got %d registrations", final.Value.TotalCount)
	}
}

func TestRegisterRejectsBadRequests(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	assertFailure(t, manager.Register(ctx, nil), api.CodeValidation, api.StageRegistry)

	missingAlgorithm := manager.Register(ctx, &api.RegisterScorerRequest{
		Scorer: api.ScorerConfig{Name: "broken"},
	})
	assertFailure(t, missingAlgorithm, api.CodeValidation, api.StageRegistry)

	unknownAlgorithm := manager.Register(ctx, &api.RegisterScorerRequest{
		Scorer: api.ScorerConfig{Name: "novel", Algorithm: "quantum"},
	})
	assertFailure(t, unknownAlgorithm, api.CodeBadFormat, api.StageRegistry)
}

func TestLoadAndReload(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	manifest := writePack(t, dir, `kind: scorer-pack
name: test-pack
scorers:
  - name: f1
    algorithm: f1
    version: 1.0.0
  - name: accuracy
    algorithm: accuracy
    version: 1.0.0
`)

	loaded := manager.Load(ctx, &api.LoadSourceRequest{Source: manifest})
	if !loaded.OK() {
		t.Fatalf("Expected the load to succeed, got %+v", loaded.Error)
	}
	if loaded.Value.TotalCount != 2 {
		t.Fatalf("Expected two scorers, got %d", loaded.Value.TotalCount)
	}
	if !manager.Resolve(ctx, "accuracy").OK() {
		t.Fatalf("Expected accuracy to be registered")
	}

	writePack(t, dir, `kind: scorer-pack
name: test-pack
scorers:
  - name: f1
    algorithm: f1
    version: 1.1.0
`)
	reloaded := manager.Reload(ctx, &api.ReloadSourceRequest{Source: manifest})
	if !reloaded.OK() {
		t.Fatalf("Expected the reload to succeed, got %+v", reloaded.Error)
	}
	if reloaded.Value.TotalCount != 1 {
		t.Fatalf("Expected one scorer after the reload, got %d", reloaded.Value.TotalCount)
	}
	assertFailure(t, manager.Resolve(ctx, "accuracy"), api.CodeScorerNotFound, api.StageRegistry)

	resolved := manager.Resolve(ctx, "f1")
	if !resolved.OK() || resolved.Value.Version != "1.1.0" {
		t.Fatalf("Expected the reloaded version, got %+v", resolved.Value)
	}

	assertFailure(t, manager.Load(ctx, &api.LoadSourceRequest{}), api.CodeValidation, api.StageRegistry)
	missing := manager.Load(ctx, &api.LoadSourceRequest{Source: filepath.Join(dir, "missing.yaml")})
	assertFailure(t, missing, api.CodeParse, api.StageRegistry)
}

func TestWatchLifecycle(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	manifest := writePack(t, t.TempDir(), `kind: scorer-pack
name: test-pack
scorers:
  - name: f1
    algorithm: f1
`)

	watched := manager.Watch(ctx, &api.WatchSourceRequest{Source: manifest})
	if !watched.OK() {
		t.Fatalf("Expected the watch to succeed, got %+v", watched.Error)
	}
	if watched.Value.Interval != registry.DefaultWatchInterval.String() {
		t.Fatalf("Expected the default interval, got %q", watched.Value.Interval)
	}

	rewatched := manager.Watch(ctx, &api.WatchSourceRequest{Source: manifest, IntervalSeconds: 60})
	if !rewatched.OK() || rewatched.Value.Interval != "1m0s" {
		t.Fatalf("Expected the replaced interval, got %+v", rewatched.Value)
	}

	listing := manager.ListWatches(ctx)
	if !listing.OK() || listing.Value.TotalCount != 1 {
		t.Fatalf("Expected one watch, got %+v", listing.Value)
	}
	if listing.Value.Items[0].Source != manifest || listing.Value.Items[0].Interval != "1m0s" {
		t.Fatalf("Expected the replaced watch to be listed, got %+v", listing.Value.Items[0])
	}

	unwatched := manager.Unwatch(ctx, &api.UnwatchSourceRequest{Source: manifest})
	if !unwatched.OK() || unwatched.Value.Source != manifest {
		t.Fatalf("Expected the unwatch to succeed, got %+v", unwatched)
	}
	assertFailure(t, manager.Unwatch(ctx, &api.UnwatchSourceRequest{Source: manifest}), api.CodeValidation, api.StageRegistry)

	if after := manager.ListWatches(ctx); after.Value.TotalCount != 0 {
		t.Fatalf("Expected no watches, got %d", after.Value.TotalCount)
	}
}

func TestTestScorerDryRun(t *testing.T) {
	store := newStore(t, "manage_dry_run")
	manager := newManager(t, store)
	ctx := context.Background()

	if registered := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()}); !registered.OK() {
		t.Fatalf("Failed to register f1: %+v", registered.Error)
	}
	dir := scoringWorkspace(t, `{"scorer": "f1", "params": {"pass_threshold": 0.9}}`)

	envelope := manager.TestScorer(ctx, &api.TestScorerRequest{WorkspacePath: dir})
	if !envelope.OK() {
		t.Fatalf("Expected success, got %+v", envelope.Error)
	}
	result := envelope.Value
	if math.Abs(result.Summary-1.6/3.0) > 1e-9 {
		t.Fatalf("Expected weighted F1 %f, got %f", 1.6/3.0, result.Summary)
	}
	if result.Pass {
		t.Fatalf("Expected fail at threshold 0.9")
	}
	if math.Abs(result.Metrics["macro_f1"]-0.4) > 1e-9 {
		t.Fatalf("Expected macro F1 0.4, got %f", result.Metrics["macro_f1"])
	}

	if _, err := os.Stat(filepath.Join(dir, "output", "result.json")); !os.IsNotExist(err) {
		t.Fatalf("Expected no result.json after a dry run")
	}
	runs := manager.ListRuns(ctx, nil)
	if !runs.OK() || runs.Value.TotalCount != 0 {
		t.Fatalf("Expected no history rows after a dry run, got %+v", runs.Value)
	}
}

func TestTestScorerParamsPatch(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	if registered := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()}); !registered.OK() {
		t.Fatalf("Failed to register f1: %+v", registered.Error)
	}
	dir := scoringWorkspace(t, `{"scorer": "f1", "params": {"pass_threshold": 0.9}}`)

	patched := manager.TestScorer(ctx, &api.TestScorerRequest{
		WorkspacePath: dir,
		ParamsPatch:   json.RawMessage(`{"pass_threshold": 0.4}`),
	})
	if !patched.OK() {
		t.Fatalf("Expected success, got %+v", patched.Error)
	}
	if !patched.Value.Pass {
		t.Fatalf("Expected the patched threshold to pass")
	}

	invalid := manager.TestScorer(ctx, &api.TestScorerRequest{
		WorkspacePath: dir,
		ParamsPatch:   json.RawMessage(`{broken`),
	})
	assertFailure(t, invalid, api.CodeBadFormat, api.StageScoring)
}

func TestTestScorerOverridesScorer(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	if registered := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()}); !registered.OK() {
		t.Fatalf("Failed to register f1: %+v", registered.Error)
	}
	dir := scoringWorkspace(t, `{"scorer": "replace-me", "params": {"pass_threshold": 0.4}}`)

	overridden := manager.TestScorer(ctx, &api.TestScorerRequest{WorkspacePath: dir, Scorer: "f1"})
	if !overridden.OK() {
		t.Fatalf("Expected the override to resolve f1, got %+v", overridden.Error)
	}
	if overridden.Value.Scorer != "f1" {
		t.Fatalf("Expected the result to name the override, got %q", overridden.Value.Scorer)
	}

	ghost := manager.TestScorer(ctx, &api.TestScorerRequest{WorkspacePath: dir, Scorer: "ghost"})
	assertFailure(t, ghost, api.CodeScorerNotFound, api.StageScoring)
}

func TestTestScorerValidationFailures(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	assertFailure(t, manager.TestScorer(ctx, nil), api.CodeValidation, api.StageValidation)
	assertFailure(t, manager.TestScorer(ctx, &api.TestScorerRequest{}), api.CodeValidation, api.StageValidation)

	missing := manager.TestScorer(ctx, &api.TestScorerRequest{
		WorkspacePath: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	assertFailure(t, missing, api.CodeMissingFile, api.StageValidation)
}

func TestHistoryOperations(t *testing.T) {
	store := newStore(t, "manage_history")
	manager := newManager(t, store)
	ctx := context.Background()

	states := []api.RunState{api.RunStateCompleted, api.RunStateFailed, api.RunStateCompleted}
	base := time.Now().Add(-time.Hour)
	var firstID string
	for i, state := range states {
		record := &api.RunRecord{
			WorkspacePath: fmt.Sprintf("/workspaces/team/ws-%d", i),
			Mode:          api.ModePipeline,
			State:         state,
		}
		record.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.CreateRun(record); err != nil {
			t.Fatalf("Failed to create run record %d: %v", i, err)
		}
		if i == 0 {
			firstID = record.ID
		}
	}

	fetched := manager.GetRun(ctx, firstID)
	if !fetched.OK() || fetched.Value.ID != firstID {
		t.Fatalf("Expected the stored record, got %+v", fetched)
	}
	assertFailure(t, manager.GetRun(ctx, "no-such-run"), api.CodeStorage, api.StageStorage)
	assertFailure(t, manager.GetRun(ctx, ""), api.CodeValidation, api.StageStorage)

	all := manager.ListRuns(ctx, nil)
	if !all.OK() {
		t.Fatalf("Expected success, got %+v", all.Error)
	}
	if all.Value.TotalCount != 3 || len(all.Value.Items) != 3 {
		t.Fatalf("Expected three records, got %+v", all.Value)
	}
	if all.Value.Limit != 50 {
		t.Fatalf("Expected the default limit, got %d", all.Value.Limit)
	}
	if all.Value.Items[0].WorkspacePath != "/workspaces/team/ws-2" {
		t.Fatalf("Expected newest first, got %q", all.Value.Items[0].WorkspacePath)
	}

	page := manager.ListRuns(ctx, &api.ListRunsRequest{Limit: 2})
	if len(page.Value.Items) != 2 || page.Value.TotalCount != 3 {
		t.Fatalf("Expected a bounded page over three records, got %+v", page.Value)
	}

	completed := manager.ListRuns(ctx, &api.ListRunsRequest{State: "completed"})
	if len(completed.Value.Items) != 2 {
		t.Fatalf("Expected two completed records, got %d", len(completed.Value.Items))
	}
	assertFailure(t, manager.ListRuns(ctx, &api.ListRunsRequest{State: "bogus"}), api.CodeValidation, api.StageStorage)

	if registered := manager.Register(ctx, &api.RegisterScorerRequest{Scorer: f1Config()}); !registered.OK() {
		t.Fatalf("Failed to register f1: %+v", registered.Error)
	}
	events := manager.ListRegistryEvents(ctx, nil)
	if !events.OK() || events.Value.TotalCount != 1 {
		t.Fatalf("Expected one registry event, got %+v", events.Value)
	}
	event := events.Value.Items[0]
	if event.Kind != api.RegistryEventRegister || event.Source != manage.InlineSource {
		t.Fatalf("Expected an inline register event, got %+v", event)
	}
}

func TestHistoryUnavailable(t *testing.T) {
	manager := newManager(t, nil)
	ctx := context.Background()

	assertFailure(t, manager.GetRun(ctx, "some-id"), api.CodeStorage, api.StageStorage)
	assertFailure(t, manager.ListRuns(ctx, nil), api.CodeStorage, api.StageStorage)
	assertFailure(t, manager.ListRegistryEvents(ctx, nil), api.CodeStorage, api.StageStorage)
}
