package features

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/logging"
	"github.com/scorehub/scorehub/internal/manage"
	"github.com/scorehub/scorehub/internal/pipeline"
	"github.com/scorehub/scorehub/internal/registry"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/storage"
	"github.com/scorehub/scorehub/internal/tracker"
	"github.com/scorehub/scorehub/internal/validation"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"

	"github.com/cucumber/godog"
)

var (
	// core is shared by all scenarios; the suite wires the service
	// components once, the same way the daemon does
	core *coreFeature
)

type coreFeature struct {
	manager  *manage.Manager
	registry *registry.Registry
	storage  abstractions.Storage
}

// stubBackend stands in for a container engine. It writes the predictions a
// real inference job would produce, so full pipeline scenarios run without a
// Docker daemon or a cluster.
type stubBackend struct{}

func (stubBackend) Name() string { return "stub" }

func (stubBackend) Execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) api.Envelope[api.RunInfo] {
	path := filepath.Join(descriptor.Path, "output", "pred.csv")
	if err := os.WriteFile(path, []byte("1,cat\n2,cat\n3,cat\n"), 0o644); err != nil {
		return api.Failure[api.RunInfo](api.CodeBackend, api.StageExecution, err.Error(), nil)
	}
	exit := 0
	return api.Success(api.RunInfo{ID: "feature-attempt", Backend: "stub", Image: descriptor.Metadata.Image, ExitCode: &exit})
}

func logDebug(format string, a ...any) {
	fmt.Printf(format, a...)
}

func createCoreFeature() (*coreFeature, error) {
	logger, _, err := logging.NewLogger()
	if err != nil {
		return nil, err
	}
	validate, err := validation.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	// tests/config.yaml, found whether the suite runs from the repo root or
	// from this directory
	conf, err := config.LoadConfig(logger, "0.0.1", "test", time.Now().Format(time.RFC3339), "..", "tests")
	if err != nil {
		return nil, fmt.Errorf("failed to load service config: %w", err)
	}

	store, err := storage.NewStorage(conf.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	workspaces, err := workspace.NewManager(logger, validate)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace manager: %w", err)
	}
	reg, err := registry.New(logger, validate, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	ic := invocation.New(context.Background(), logger, "features.startup")
	watchInterval := time.Duration(conf.Registry.WatchIntervalSeconds) * time.Second
	if _, err := reg.LoadPackDirs(ic, conf.Registry.AutoWatch, watchInterval, conf.Registry.PackDirs...); err != nil {
		return nil, fmt.Errorf("failed to load scorer packs: %w", err)
	}

	// publishing stays disabled unless TRACKER_URI points at a live server
	publisher, err := tracker.NewPublisher(conf.Tracker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker publisher: %w", err)
	}
	var trk abstractions.Tracker
	if publisher != nil {
		trk = publisher
	}

	engine := scoring.NewEngine(logger, workspaces)
	orchestrator := pipeline.New(logger, workspaces, reg, stubBackend{}, engine, store, trk)
	manager := manage.NewManager(logger, validate, reg, workspaces, engine, orchestrator, store)

	return &coreFeature{manager: manager, registry: reg, storage: store}, nil
}

// scenarioConfig isolates one scenario: the workspaces it created, the
// scorers it registered and the outcome of its last operation.
type scenarioConfig struct {
	scenarioName string
	core         *coreFeature

	workspace  string
	tempDirs   []string
	packs      map[string]string
	registered []string

	outcome     api.Envelope[api.PipelineOutcome]
	ranPipeline bool
	lastFailure *api.ErrorInfo
}

func createScenarioConfig(core *coreFeature) *scenarioConfig {
	return &scenarioConfig{
		core:  core,
		packs: make(map[string]string),
	}
}

func (sc *scenarioConfig) saveScenarioName(ctx context.Context, s *godog.Scenario) (context.Context, error) {
	sc.scenarioName = s.Name
	return ctx, nil
}

// cleanup unregisters everything the scenario added and removes its
// directories, also after failed scenarios.
func (sc *scenarioConfig) cleanup(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
	for _, name := range sc.registered {
		envelope := sc.core.manager.Unregister(context.Background(), name)
		if !envelope.OK() && envelope.Error.Code != api.CodeScorerNotFound {
			return ctx, fmt.Errorf("failed to unregister scorer %q: %s", name, envelope.Error.Message)
		}
	}
	sc.registered = nil
	for _, dir := range sc.tempDirs {
		if err := os.RemoveAll(dir); err != nil {
			logDebug("Failed to remove %s: %v\n", dir, err)
		}
	}
	sc.tempDirs = nil
	return ctx, nil
}

func (sc *scenarioConfig) tempDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", err
	}
	sc.tempDirs = append(sc.tempDirs, dir)
	return dir, nil
}

func (sc *scenarioConfig) trackRegistered(names ...string) {
	sc.registered = append(sc.registered, names...)
}

// docLines normalizes a DocString into newline-terminated file content.
func docLines(doc *godog.DocString) []byte {
	return []byte(strings.TrimSpace(doc.Content) + "\n")
}

// --- workspace steps ---

func (sc *scenarioConfig) aWorkspaceWithGroundTruth(doc *godog.DocString) error {
	dir, err := sc.tempDir("scorehub-feature-*")
	if err != nil {
		return err
	}
	sc.workspace = dir
	if err := os.MkdirAll(filepath.Join(dir, "input"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "input", "gt.csv"), docLines(doc), 0o644)
}

func (sc *scenarioConfig) theWorkspaceHasPredictions(doc *godog.DocString) error {
	if sc.workspace == "" {
		return fmt.Errorf("no workspace created yet")
	}
	if err := os.MkdirAll(filepath.Join(sc.workspace, "output"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sc.workspace, "output", "pred.csv"), docLines(doc), 0o644)
}

func (sc *scenarioConfig) theWorkspaceMetadataNamesTheScorer(name string) error {
	if sc.workspace == "" {
		return fmt.Errorf("no workspace created yet")
	}
	metadata := api.JobMetadata{
		Scorer: name,
		Image:  "example.com/scorehub/echo:latest",
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sc.workspace, "job.json"), data, 0o644)
}

// --- pipeline steps ---

func (sc *scenarioConfig) iRunThePipelineInMode(mode string) error {
	sc.outcome = sc.core.manager.Run(context.Background(), &api.RunPipelineRequest{
		WorkspacePath: sc.workspace,
		Mode:          mode,
	})
	sc.ranPipeline = true
	return nil
}

func (sc *scenarioConfig) iRunThePipelineAgainstAMissingWorkspace() error {
	sc.workspace = filepath.Join(os.TempDir(), fmt.Sprintf("scorehub-missing-%d", time.Now().UnixNano()))
	return sc.iRunThePipelineInMode(string(api.ModeScoreOnly))
}

func (sc *scenarioConfig) theRunShouldSucceed() error {
	if !sc.ranPipeline {
		return fmt.Errorf("no pipeline run in this scenario")
	}
	if !sc.outcome.OK() {
		return fmt.Errorf("expected success, got %s in stage %s: %s",
			sc.outcome.Error.Code, sc.outcome.Error.Stage, sc.outcome.Error.Message)
	}
	return nil
}

func (sc *scenarioConfig) theRunShouldFailWith(code, stage string) error {
	if !sc.ranPipeline {
		return fmt.Errorf("no pipeline run in this scenario")
	}
	if sc.outcome.OK() {
		return fmt.Errorf("expected failure with code %s, got success", code)
	}
	if string(sc.outcome.Error.Code) != code {
		return fmt.Errorf("expected code %s, got %s: %s", code, sc.outcome.Error.Code, sc.outcome.Error.Message)
	}
	if string(sc.outcome.Error.Stage) != stage {
		return fmt.Errorf("expected stage %s, got %s", stage, sc.outcome.Error.Stage)
	}
	return nil
}

func (sc *scenarioConfig) theResultSummaryShouldBeCloseTo(value float64) error {
	if err := sc.theRunShouldSucceed(); err != nil {
		return err
	}
	if sc.outcome.Value.Result == nil {
		return fmt.Errorf("the outcome carries no result")
	}
	if math.Abs(sc.outcome.Value.Result.Summary-value) > 0.001 {
		return fmt.Errorf("expected summary close to %v, got %v", value, sc.outcome.Value.Result.Summary)
	}
	return nil
}

func (sc *scenarioConfig) theResultMetricShouldBeCloseTo(name string, value float64) error {
	if err := sc.theRunShouldSucceed(); err != nil {
		return err
	}
	if sc.outcome.Value.Result == nil {
		return fmt.Errorf("the outcome carries no result")
	}
	got, ok := sc.outcome.Value.Result.Metrics[name]
	if !ok {
		return fmt.Errorf("the result has no metric %q, metrics: %v", name, sc.outcome.Value.Result.Metrics)
	}
	if math.Abs(got-value) > 0.001 {
		return fmt.Errorf("expected metric %q close to %v, got %v", name, value, got)
	}
	return nil
}

func (sc *scenarioConfig) theOutcomeShouldCarryNoResult() error {
	if err := sc.theRunShouldSucceed(); err != nil {
		return err
	}
	if sc.outcome.Value.Result != nil {
		return fmt.Errorf("expected no result, got %+v", sc.outcome.Value.Result)
	}
	return nil
}

func (sc *scenarioConfig) theRunShouldRecordBackend(backend string) error {
	if err := sc.theRunShouldSucceed(); err != nil {
		return err
	}
	if sc.outcome.Value.Run == nil {
		return fmt.Errorf("the outcome carries no run info")
	}
	if sc.outcome.Value.Run.Backend != backend {
		return fmt.Errorf("expected backend %q, got %q", backend, sc.outcome.Value.Run.Backend)
	}
	return nil
}

func (sc *scenarioConfig) theWorkspaceShouldContain(relative string) error {
	if sc.workspace == "" {
		return fmt.Errorf("no workspace created yet")
	}
	path := filepath.Join(sc.workspace, filepath.FromSlash(relative))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("expected %s to exist: %v", relative, err)
	}
	return nil
}

func (sc *scenarioConfig) theRunShouldAppearInTheHistoryAs(state string) error {
	envelope := sc.core.manager.ListRuns(context.Background(), &api.ListRunsRequest{State: state})
	if !envelope.OK() {
		return fmt.Errorf("failed to list runs: %s", envelope.Error.Message)
	}
	for _, record := range envelope.Value.Items {
		if record.WorkspacePath == sc.workspace {
			return nil
		}
	}
	return fmt.Errorf("no %s run found for workspace %s among %d records", state, sc.workspace, envelope.Value.TotalCount)
}

// --- registry steps ---

func (sc *scenarioConfig) theScorerIsAvailable(name, algorithm string) error {
	if sc.core.manager.Resolve(context.Background(), name).OK() {
		return nil
	}
	return sc.iRegisterTheScorerStrict(name, algorithm)
}

func (sc *scenarioConfig) iRegisterTheScorerStrict(name, algorithm string) error {
	if err := sc.iRegisterTheScorer(name, algorithm); err != nil {
		return err
	}
	if sc.lastFailure != nil {
		return fmt.Errorf("failed to register scorer %q: %s", name, sc.lastFailure.Message)
	}
	return nil
}

func (sc *scenarioConfig) iRegisterTheScorer(name, algorithm string) error {
	envelope := sc.core.manager.Register(context.Background(), &api.RegisterScorerRequest{
		Scorer: api.ScorerConfig{Name: name, Algorithm: algorithm, Version: "1.0.0"},
	})
	if envelope.OK() {
		sc.lastFailure = nil
		sc.trackRegistered(name)
	} else {
		sc.lastFailure = envelope.Error
	}
	return nil
}

func (sc *scenarioConfig) iUnregisterTheScorer(name string) error {
	envelope := sc.core.manager.Unregister(context.Background(), name)
	if envelope.OK() {
		sc.lastFailure = nil
	} else {
		sc.lastFailure = envelope.Error
	}
	return nil
}

func (sc *scenarioConfig) theRegistryShouldList(name string) error {
	envelope := sc.core.manager.Resolve(context.Background(), name)
	if !envelope.OK() {
		return fmt.Errorf("expected scorer %q to be registered: %s", name, envelope.Error.Message)
	}
	return nil
}

func (sc *scenarioConfig) theRegistryShouldNotList(name string) error {
	envelope := sc.core.manager.Resolve(context.Background(), name)
	if envelope.OK() {
		return fmt.Errorf("expected scorer %q to be gone, but it resolves", name)
	}
	if envelope.Error.Code != api.CodeScorerNotFound {
		return fmt.Errorf("expected %s, got %s", api.CodeScorerNotFound, envelope.Error.Code)
	}
	return nil
}

func (sc *scenarioConfig) theOperationShouldFailWithCode(code string) error {
	if sc.lastFailure == nil {
		return fmt.Errorf("expected a failure with code %s, but the last operation succeeded", code)
	}
	if string(sc.lastFailure.Code) != code {
		return fmt.Errorf("expected code %s, got %s: %s", code, sc.lastFailure.Code, sc.lastFailure.Message)
	}
	return nil
}

func (sc *scenarioConfig) aScorerPackDeclaring(name string, doc *godog.DocString) error {
	dir, err := sc.tempDir("scorehub-pack-*")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	sc.packs[name] = path
	return os.WriteFile(path, docLines(doc), 0o644)
}

func (sc *scenarioConfig) theScorerPackChangesTo(name string, doc *godog.DocString) error {
	path, ok := sc.packs[name]
	if !ok {
		return fmt.Errorf("no scorer pack %q in this scenario", name)
	}
	return os.WriteFile(path, docLines(doc), 0o644)
}

func (sc *scenarioConfig) iLoadTheScorerPack(name string) error {
	path, ok := sc.packs[name]
	if !ok {
		return fmt.Errorf("no scorer pack %q in this scenario", name)
	}
	envelope := sc.core.manager.Load(context.Background(), &api.LoadSourceRequest{Source: path})
	if envelope.OK() {
		sc.lastFailure = nil
		for _, info := range envelope.Value.Items {
			sc.trackRegistered(info.Name)
		}
	} else {
		sc.lastFailure = envelope.Error
	}
	return nil
}

func (sc *scenarioConfig) iReloadTheScorerPack(name string) error {
	path, ok := sc.packs[name]
	if !ok {
		return fmt.Errorf("no scorer pack %q in this scenario", name)
	}
	envelope := sc.core.manager.Reload(context.Background(), &api.ReloadSourceRequest{Source: path})
	if envelope.OK() {
		sc.lastFailure = nil
		for _, info := range envelope.Value.Items {
			sc.trackRegistered(info.Name)
		}
	} else {
		sc.lastFailure = envelope.Error
	}
	return nil
}

func (sc *scenarioConfig) theRegistryHistoryShouldRecordEventForThePack(kind, name string) error {
	path, ok := sc.packs[name]
	if !ok {
		return fmt.Errorf("no scorer pack %q in this scenario", name)
	}
	envelope := sc.core.manager.ListRegistryEvents(context.Background(), &api.ListRegistryEventsRequest{Source: path})
	if !envelope.OK() {
		return fmt.Errorf("failed to list registry events: %s", envelope.Error.Message)
	}
	for _, event := range envelope.Value.Items {
		if string(event.Kind) == kind {
			return nil
		}
	}
	return fmt.Errorf("no %s event recorded for %s among %d events", kind, path, envelope.Value.TotalCount)
}

// --- suite wiring ---

func setUpCore() {
	c, err := createCoreFeature()
	if err != nil {
		panic(fmt.Errorf("failed to create the service core: %v", err))
	}
	core = c
}

func tidyUpTests() {
	if core == nil {
		return
	}
	core.registry.Close()
	if err := core.storage.Close(); err != nil {
		logDebug("Failed to close storage: %v\n", err)
	}
}

func InitializeTestSuite(ctx *godog.TestSuiteContext) {
	ctx.BeforeSuite(setUpCore)
	ctx.AfterSuite(tidyUpTests)
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := createScenarioConfig(core)

	ctx.Before(tc.saveScenarioName)
	ctx.After(tc.cleanup)

	// workspace steps
	ctx.Step(`^a workspace with ground truth:$`, tc.aWorkspaceWithGroundTruth)
	ctx.Step(`^the workspace has predictions:$`, tc.theWorkspaceHasPredictions)
	ctx.Step(`^the workspace metadata names the scorer "([^"]*)"$`, tc.theWorkspaceMetadataNamesTheScorer)

	// pipeline steps
	ctx.Step(`^I run the pipeline in "([^"]*)" mode$`, tc.iRunThePipelineInMode)
	ctx.Step(`^I run the pipeline against a missing workspace$`, tc.iRunThePipelineAgainstAMissingWorkspace)
	ctx.Step(`^the run should succeed$`, tc.theRunShouldSucceed)
	ctx.Step(`^the run should fail with code "([^"]*)" in stage "([^"]*)"$`, tc.theRunShouldFailWith)
	ctx.Step(`^the result summary should be close to ([0-9.]+)$`, tc.theResultSummaryShouldBeCloseTo)
	ctx.Step(`^the result metric "([^"]*)" should be close to ([0-9.]+)$`, tc.theResultMetricShouldBeCloseTo)
	ctx.Step(`^the outcome should carry no result$`, tc.theOutcomeShouldCarryNoResult)
	ctx.Step(`^the run should record backend "([^"]*)"$`, tc.theRunShouldRecordBackend)
	ctx.Step(`^the workspace should contain "([^"]*)"$`, tc.theWorkspaceShouldContain)
	ctx.Step(`^the run should appear in the history as "([^"]*)"$`, tc.theRunShouldAppearInTheHistoryAs)

	// registry steps
	ctx.Step(`^the scorer "([^"]*)" is available with algorithm "([^"]*)"$`, tc.theScorerIsAvailable)
	ctx.Step(`^the scorer "([^"]*)" is registered with algorithm "([^"]*)"$`, tc.iRegisterTheScorerStrict)
	ctx.Step(`^I register the scorer "([^"]*)" with algorithm "([^"]*)"$`, tc.iRegisterTheScorer)
	ctx.Step(`^I unregister the scorer "([^"]*)"$`, tc.iUnregisterTheScorer)
	ctx.Step(`^the registry should list "([^"]*)"$`, tc.theRegistryShouldList)
	ctx.Step(`^the registry should not list "([^"]*)"$`, tc.theRegistryShouldNotList)
	ctx.Step(`^the operation should fail with code "([^"]*)"$`, tc.theOperationShouldFailWithCode)
	ctx.Step(`^a scorer pack "([^"]*)" declaring:$`, tc.aScorerPackDeclaring)
	ctx.Step(`^the scorer pack "([^"]*)" changes to:$`, tc.theScorerPackChangesTo)
	ctx.Step(`^I load the scorer pack "([^"]*)"$`, tc.iLoadTheScorerPack)
	ctx.Step(`^I reload the scorer pack "([^"]*)"$`, tc.iReloadTheScorerPack)
	ctx.Step(`^the registry history should record a "([^"]*)" event for the pack "([^"]*)"$`, tc.theRegistryHistoryShouldRecordEventForThePack)
}
