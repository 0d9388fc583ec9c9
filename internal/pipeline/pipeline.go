// Package pipeline drives single invocations through the run state machine:
// Validating -> Executing -> Scoring -> Completed, with Failed absorbing from
// every stage. The orchestrator holds no cross-invocation state; everything it
// needs is injected at construction and every call gets a fresh run id.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/registry"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

const tracerName = "scorehub/pipeline"

// Orchestrator coordinates the stages of one pipeline invocation. Registry,
// backend, engine, storage and tracker are shared across invocations; all
// per-invocation state lives on the stack of Run.
type Orchestrator struct {
	logger     *slog.Logger
	workspaces *workspace.Manager
	registry   *registry.Registry
	backend    abstractions.Backend
	engine     *scoring.Engine
	storage    abstractions.Storage
	tracker    abstractions.Tracker
	tracer     trace.Tracer
}

// New wires the orchestrator. storage and tracker may be nil; history and
// publishing then degrade to logging.
func New(
	logger *slog.Logger,
	workspaces *workspace.Manager,
	reg *registry.Registry,
	backend abstractions.Backend,
	engine *scoring.Engine,
	storage abstractions.Storage,
	tracker abstractions.Tracker,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		workspaces: workspaces,
		registry:   reg,
		backend:    backend,
		engine:     engine,
		storage:    storage,
		tracker:    tracker,
		tracer:     otel.Tracer(tracerName),
	}
}

// Run drives one invocation to a terminal envelope. The invocation id doubles
// as the history run id, so log lines and history rows correlate directly.
func (o *Orchestrator) Run(ctx context.Context, workspacePath string, mode api.Mode) api.Envelope[api.PipelineOutcome] {
	ic := invocation.New(ctx, o.logger, "pipeline."+string(mode)).
		With(constants.LOG_WORKSPACE, workspacePath)
	metrics.PipelineRunsInFlight.Inc()
	defer metrics.PipelineRunsInFlight.Dec()

	now := time.Now().UTC()
	record := &api.RunRecord{
		Resource:      api.Resource{ID: ic.InvocationID, CreatedAt: now, UpdatedAt: now},
		WorkspacePath: workspacePath,
		Mode:          mode,
		State:         api.RunStateValidating,
		StartedAt:     api.DateTimeToString(now),
	}
	ic.Logger.Info("Run started", constants.LOG_RUN_ID, record.ID, constants.LOG_MODE, string(mode))
	o.persist(ic, record, true)

	descriptor, info := o.validate(ic, record)
	if info != nil {
		return o.fail(ic, record, info)
	}

	outcome := &api.PipelineOutcome{}
	if mode != api.ModeScoreOnly {
		o.transition(ic, record, api.RunStateExecuting)
		run, info := o.executeStage(ic, record, descriptor)
		if info != nil {
			return o.fail(ic, record, info)
		}
		outcome.Run = run
		record.Run = run
	}

	if mode != api.ModeRunOnly {
		o.transition(ic, record, api.RunStateScoring)
		result, info := o.scoreStage(ic, record, descriptor)
		if info != nil {
			return o.fail(ic, record, info)
		}
		outcome.Result = result
		record.Result = result
	}

	return o.complete(ic, record, outcome)
}

// validate loads and checks the workspace under the profile the mode needs.
func (o *Orchestrator) validate(ic *invocation.Context, record *api.RunRecord) (*api.WorkspaceDescriptor, *api.ErrorInfo) {
	started := time.Now()
	ctx, span := o.tracer.Start(ic.Ctx, "pipeline.validate", trace.WithAttributes(
		attribute.String("run_id", record.ID),
		attribute.String("workspace", record.WorkspacePath)))
	defer span.End()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(api.StageValidation)).Observe(time.Since(started).Seconds())
	}()

	descriptor, err := o.workspaces.Load(ic.WithCtx(ctx), record.WorkspacePath, workspace.ProfileForMode(record.Mode))
	if err != nil {
		span.RecordError(err)
		return nil, serviceerrors.ToErrorInfo(err, api.StageValidation, api.CodeValidation)
	}
	return descriptor, nil
}

// executeStage hands the workspace to the backend and blocks for the outcome.
// When the attempt failed after a container started, the run record persisted
// in the workspace is read back so the history row still carries it.
func (o *Orchestrator) executeStage(ic *invocation.Context, record *api.RunRecord, descriptor *api.WorkspaceDescriptor) (*api.RunInfo, *api.ErrorInfo) {
	started := time.Now()
	ctx, span := o.tracer.Start(ic.Ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("run_id", record.ID),
		attribute.String("backend", o.backend.Name()),
		attribute.String("image", descriptor.Metadata.Image)))
	defer span.End()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(api.StageExecution)).Observe(time.Since(started).Seconds())
	}()

	envelope := o.backend.Execute(ctx, descriptor)
	if !envelope.OK() {
		if run, err := workspace.ReadRunInfo(descriptor); err == nil {
			record.Run = run
		}
		span.RecordError(errors.New(envelope.Error.Message))
		return nil, envelope.Error
	}
	if envelope.Value.ExitCode != nil {
		span.SetAttributes(attribute.Int("exit_code", *envelope.Value.ExitCode))
	}
	return envelope.Value, nil
}

// scoreStage resolves the scorer, enforces its params schema and runs it.
func (o *Orchestrator) scoreStage(ic *invocation.Context, record *api.RunRecord, descriptor *api.WorkspaceDescriptor) (*api.Result, *api.ErrorInfo) {
	started := time.Now()
	ctx, span := o.tracer.Start(ic.Ctx, "pipeline.score", trace.WithAttributes(
		attribute.String("run_id", record.ID),
		attribute.String("scorer", descriptor.Metadata.Scorer)))
	defer span.End()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(api.StageScoring)).Observe(time.Since(started).Seconds())
	}()

	result, err := o.score(ic.WithCtx(ctx), descriptor)
	if err != nil {
		span.RecordError(err)
		return nil, serviceerrors.ToErrorInfo(err, api.StageScoring, api.CodeScoring)
	}
	span.SetAttributes(attribute.Float64("summary", result.Summary), attribute.Bool("pass", result.Pass))
	return result, nil
}

// score runs the scorer with panic confinement: a panicking scorer fails this
// invocation, never the process. Registry errors are re-staged to scoring
// because inside a pipeline that is where resolution happens.
func (o *Orchestrator) score(ic *invocation.Context, descriptor *api.WorkspaceDescriptor) (result *api.Result, err error) {
	registration, resolveErr := o.registry.Resolve(descriptor.Metadata.Scorer)
	if resolveErr != nil {
		return nil, restage(resolveErr, api.StageScoring)
	}
	params := registration.EffectiveParams(descriptor.Metadata.Params)
	if checkErr := registration.CheckParams(params); checkErr != nil {
		return nil, restage(checkErr, api.StageScoring)
	}

	defer func() {
		if cause := recover(); cause != nil {
			result = nil
			err = serviceerrors.NewServiceError(messages.ScorerPanicked,
				"Name", descriptor.Metadata.Scorer, "Error", fmt.Sprintf("%v", cause)).WithStage(api.StageScoring)
			ic.Logger.Error("Scorer panicked",
				constants.LOG_SCORER, descriptor.Metadata.Scorer, constants.LOG_ERROR, fmt.Sprintf("%v", cause))
		}
	}()

	result, err = o.engine.Score(ic, registration.Scorer, descriptor, params)
	if err != nil {
		return nil, err
	}
	if writeErr := workspace.WriteResult(descriptor, result); writeErr != nil {
		return nil, serviceerrors.NewServiceError(messages.ResultWriteFailed,
			"Path", descriptor.Path, "Error", writeErr.Error()).WithStage(api.StageScoring)
	}
	return result, nil
}

// transition advances the state machine and persists the row.
func (o *Orchestrator) transition(ic *invocation.Context, record *api.RunRecord, next api.RunState) {
	previous := record.State
	record.State = next
	record.UpdatedAt = time.Now().UTC()
	o.persist(ic, record, false)
	ic.Logger.Info("Run state changed",
		constants.LOG_RUN_ID, record.ID, "from", previous.String(), "to", next.String())
	o.emitTransition(ic, record, previous, next)
}

// complete publishes the result, then writes the terminal row exactly once.
func (o *Orchestrator) complete(ic *invocation.Context, record *api.RunRecord, outcome *api.PipelineOutcome) api.Envelope[api.PipelineOutcome] {
	previous := record.State
	now := time.Now().UTC()
	record.State = api.RunStateCompleted
	record.CompletedAt = api.DateTimeToString(now)
	record.UpdatedAt = now
	o.publish(ic, record)
	o.persist(ic, record, false)
	o.emitTransition(ic, record, previous, record.State)

	metrics.PipelineRunsTotal.WithLabelValues(string(record.Mode), metrics.OutcomeSuccess).Inc()
	ic.Logger.Info("Run completed", constants.LOG_RUN_ID, record.ID)
	return api.Success(*outcome)
}

// fail absorbs the invocation into the terminal failed state.
func (o *Orchestrator) fail(ic *invocation.Context, record *api.RunRecord, info *api.ErrorInfo) api.Envelope[api.PipelineOutcome] {
	previous := record.State
	now := time.Now().UTC()
	record.State = api.RunStateFailed
	record.Error = info
	record.CompletedAt = api.DateTimeToString(now)
	record.UpdatedAt = now
	o.persist(ic, record, false)
	o.emitTransition(ic, record, previous, record.State)

	outcome := metrics.OutcomeError
	if info.Code == api.CodeTimeout {
		outcome = metrics.OutcomeTimeout
	}
	metrics.PipelineRunsTotal.WithLabelValues(string(record.Mode), outcome).Inc()
	ic.Logger.Error("Run failed",
		constants.LOG_RUN_ID, record.ID,
		constants.LOG_STAGE, string(info.Stage),
		"code", string(info.Code),
		constants.LOG_ERROR, info.Message)
	return api.FailureInfo[api.PipelineOutcome](info)
}

// persist writes the history row. History never fails a pipeline invocation;
// a storage outage degrades to a log line and a metric.
func (o *Orchestrator) persist(ic *invocation.Context, record *api.RunRecord, create bool) {
	if o.storage == nil {
		return
	}
	storage := o.storage.WithLogger(ic.Logger).WithContext(ic.Ctx)
	operation := "update_run"
	var err error
	if create {
		operation = "create_run"
		err = storage.CreateRun(record)
	} else {
		err = storage.UpdateRun(record)
	}
	if err != nil {
		metrics.StorageFailures.WithLabelValues(operation).Inc()
		ic.Logger.Error("Failed to persist run record",
			constants.LOG_RUN_ID, record.ID, constants.LOG_ERROR, err.Error())
	}
}

// publish records the result on the tracking server. A publish failure leaves
// the row without a tracker run id and never alters the envelope.
func (o *Orchestrator) publish(ic *invocation.Context, record *api.RunRecord) {
	if o.tracker == nil || record.Result == nil {
		return
	}
	trackerRunID, err := o.tracker.Publish(ic.Ctx, record)
	if err != nil {
		ic.Logger.Error("Failed to publish run to tracker",
			constants.LOG_RUN_ID, record.ID, constants.LOG_ERROR, err.Error())
		return
	}
	record.TrackerRunID = trackerRunID
}

// emitTransition sends the state change through the global OTel log provider.
// Without a configured log pipeline the global provider is a no-op.
func (o *Orchestrator) emitTransition(ic *invocation.Context, record *api.RunRecord, from api.RunState, to api.RunState) {
	logger := global.GetLoggerProvider().Logger(tracerName)
	var entry otellog.Record
	entry.SetTimestamp(time.Now())
	entry.SetSeverity(otellog.SeverityInfo)
	entry.SetBody(otellog.StringValue("run state changed"))
	entry.AddAttributes(
		otellog.String("run_id", record.ID),
		otellog.String("mode", string(record.Mode)),
		otellog.String("from", from.String()),
		otellog.String("to", to.String()),
	)
	logger.Emit(ic.Ctx, entry)
}

// restage rewrites the stage on a service error, keeping its code.
func restage(err error, stage api.Stage) error {
	var se *serviceerrors.ServiceError
	if errors.As(err, &se) {
		return se.WithStage(stage)
	}
	return err
}
