// Package manage is the envelope-returning entry surface consumed by the
// external management layer. Every operation creates its own invocation
// context, validates its request payload and converts failures into the
// error taxonomy exactly once.
package manage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/logging"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/pipeline"
	"github.com/scorehub/scorehub/internal/registry"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

// InlineSource is the audit-trail source recorded for scorers registered
// directly through the facade rather than from a pack manifest.
const InlineSource = "inline"

// Manager exposes the management operations. It owns no state of its own;
// everything is delegated to the injected components.
type Manager struct {
	logger     *slog.Logger
	validate   *validator.Validate
	registry   *registry.Registry
	workspaces *workspace.Manager
	engine     *scoring.Engine
	pipeline   *pipeline.Orchestrator
	storage    abstractions.Storage
}

// NewManager wires the facade. storage may be nil; the history operations
// then answer with a storage failure envelope.
func NewManager(
	logger *slog.Logger,
	validate *validator.Validate,
	reg *registry.Registry,
	workspaces *workspace.Manager,
	engine *scoring.Engine,
	orchestrator *pipeline.Orchestrator,
	storage abstractions.Storage,
) *Manager {
	return &Manager{
		logger:     logger,
		validate:   validate,
		registry:   reg,
		workspaces: workspaces,
		engine:     engine,
		pipeline:   orchestrator,
		storage:    storage,
	}
}

// Run invokes the pipeline against a workspace. The orchestrator creates the
// run's own invocation context, keyed by the history run id; the facade only
// screens the request.
func (m *Manager) Run(ctx context.Context, request *api.RunPipelineRequest) api.Envelope[api.PipelineOutcome] {
	ic := m.invocation(ctx, "manage.run")
	if info := checkRequest(m, ic, request, api.StageValidation); info != nil {
		return failure[api.PipelineOutcome](ic, info)
	}

	mode := api.ModePipeline
	if request.Mode != "" {
		parsed, err := api.GetMode(request.Mode)
		if err != nil {
			violation := serviceerrors.NewServiceError(messages.FieldInvalid,
				"Field", "mode", "Error", err.Error())
			return failure[api.PipelineOutcome](ic, serviceerrors.ToErrorInfo(violation, api.StageValidation, api.CodeValidation))
		}
		mode = parsed
	}

	envelope := m.pipeline.Run(ic.Ctx, request.WorkspacePath, mode)
	if envelope.OK() {
		logging.LogOperationSucceeded(ic)
	} else {
		logging.LogOperationFailed(ic, envelope.Error.Code, envelope.Error.Message)
	}
	return envelope
}

// Register registers one configured scorer under its own name.
func (m *Manager) Register(ctx context.Context, request *api.RegisterScorerRequest) api.Envelope[api.ScorerInfo] {
	ic := m.invocation(ctx, "manage.register")
	if info := checkRequest(m, ic, request, api.StageRegistry); info != nil {
		return failure[api.ScorerInfo](ic, info)
	}

	source := request.Source
	if source == "" {
		source = InlineSource
	}
	registration, err := m.registry.RegisterConfig(ic, request.Scorer, source, request.Replace)
	if err != nil {
		return failure[api.ScorerInfo](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	return success(ic, registration.Info())
}

// Load loads a scorer-pack source and optionally establishes a watch on it.
func (m *Manager) Load(ctx context.Context, request *api.LoadSourceRequest) api.Envelope[api.ScorerInfoList] {
	ic := m.invocation(ctx, "manage.load")
	if info := checkRequest(m, ic, request, api.StageRegistry); info != nil {
		return failure[api.ScorerInfoList](ic, info)
	}

	interval := time.Duration(request.IntervalSeconds) * time.Second
	infos, err := m.registry.Load(ic, request.Source, request.Watch, interval)
	if err != nil {
		return failure[api.ScorerInfoList](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	return success(ic, api.ScorerInfoList{TotalCount: len(infos), Items: infos})
}

// Reload re-parses a source and atomically swaps its registrations.
func (m *Manager) Reload(ctx context.Context, request *api.ReloadSourceRequest) api.Envelope[api.ScorerInfoList] {
	ic := m.invocation(ctx, "manage.reload")
	if info := checkRequest(m, ic, request, api.StageRegistry); info != nil {
		return failure[api.ScorerInfoList](ic, info)
	}

	infos, err := m.registry.Reload(ic, request.Source)
	if err != nil {
		return failure[api.ScorerInfoList](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	return success(ic, api.ScorerInfoList{TotalCount: len(infos), Items: infos})
}

// Watch starts or replaces the change watch on a source.
func (m *Manager) Watch(ctx context.Context, request *api.WatchSourceRequest) api.Envelope[api.WatchInfo] {
	ic := m.invocation(ctx, "manage.watch")
	if info := checkRequest(m, ic, request, api.StageRegistry); info != nil {
		return failure[api.WatchInfo](ic, info)
	}

	interval := time.Duration(request.IntervalSeconds) * time.Second
	if err := m.registry.Watch(ic, request.Source, interval); err != nil {
		return failure[api.WatchInfo](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	if interval <= 0 {
		interval = registry.DefaultWatchInterval
	}
	return success(ic, api.WatchInfo{Source: request.Source, Interval: interval.String()})
}

// Unwatch removes the change watch from a source.
func (m *Manager) Unwatch(ctx context.Context, request *api.UnwatchSourceRequest) api.Envelope[api.WatchInfo] {
	ic := m.invocation(ctx, "manage.unwatch")
	if info := checkRequest(m, ic, request, api.StageRegistry); info != nil {
		return failure[api.WatchInfo](ic, info)
	}

	if err := m.registry.Unwatch(ic, request.Source); err != nil {
		return failure[api.WatchInfo](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	return success(ic, api.WatchInfo{Source: request.Source})
}

// Resolve returns the listing view of one registered scorer.
func (m *Manager) Resolve(ctx context.Context, name string) api.Envelope[api.ScorerInfo] {
	ic := m.invocation(ctx, "manage.resolve")
	if name == "" {
		return failure[api.ScorerInfo](ic, fieldRequired("name", api.StageRegistry))
	}

	registration, err := m.registry.Resolve(name)
	if err != nil {
		return failure[api.ScorerInfo](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	return success(ic, registration.Info())
}

// List returns all registrations ordered by name.
func (m *Manager) List(ctx context.Context) api.Envelope[api.ScorerInfoList] {
	ic := m.invocation(ctx, "manage.list")
	infos := m.registry.List()
	return success(ic, api.ScorerInfoList{TotalCount: len(infos), Items: infos})
}

// ListWatches returns the active source watches.
func (m *Manager) ListWatches(ctx context.Context) api.Envelope[api.WatchInfoList] {
	ic := m.invocation(ctx, "manage.list_watches")
	infos := m.registry.Watched()
	return success(ic, api.WatchInfoList{TotalCount: len(infos), Items: infos})
}

// Unregister removes one registration by name and returns its last listing
// view.
func (m *Manager) Unregister(ctx context.Context, name string) api.Envelope[api.ScorerInfo] {
	ic := m.invocation(ctx, "manage.unregister")
	if name == "" {
		return failure[api.ScorerInfo](ic, fieldRequired("name", api.StageRegistry))
	}

	registration, err := m.registry.Resolve(name)
	if err != nil {
		return failure[api.ScorerInfo](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	if err := m.registry.Unregister(ic, name); err != nil {
		return failure[api.ScorerInfo](ic, serviceerrors.ToErrorInfo(err, api.StageRegistry, api.CodeValidation))
	}
	return success(ic, registration.Info())
}

func (m *Manager) invocation(ctx context.Context, operation string) *invocation.Context {
	ic := invocation.New(ctx, m.logger, operation)
	logging.LogOperationStarted(ic)
	return ic
}

// checkRequest validates the request payload, shaping violations into the
// validation taxonomy. A nil request is treated as a missing payload.
func checkRequest[T any](m *Manager, ic *invocation.Context, request *T, stage api.Stage) *api.ErrorInfo {
	if request == nil {
		return fieldRequired("request", stage)
	}
	if err := m.validate.StructCtx(ic.Ctx, request); err != nil {
		var violations validator.ValidationErrors
		if errors.As(err, &violations) && len(violations) > 0 {
			first := violations[0]
			violation := serviceerrors.NewServiceError(messages.FieldInvalid,
				"Field", first.Field(), "Error", first.Tag())
			return serviceerrors.ToErrorInfo(violation, stage, api.CodeValidation)
		}
		return serviceerrors.ToErrorInfo(err, stage, api.CodeValidation)
	}
	return nil
}

func fieldRequired(field string, stage api.Stage) *api.ErrorInfo {
	err := serviceerrors.NewServiceError(messages.FieldInvalid, "Field", field, "Error", "required")
	return serviceerrors.ToErrorInfo(err, stage, api.CodeValidation)
}

func success[T any](ic *invocation.Context, value T) api.Envelope[T] {
	logging.LogOperationSucceeded(ic)
	return api.Success(value)
}

func failure[T any](ic *invocation.Context, info *api.ErrorInfo) api.Envelope[T] {
	logging.LogOperationFailed(ic, info.Code, info.Message)
	return api.FailureInfo[T](info)
}
