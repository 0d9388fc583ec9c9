package scoring

import (
	"errors"
	"log/slog"
	"time"

	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

// Engine runs one scorer against one workspace and shapes the outcome into
// the persisted Result. It owns no shared state beyond the workspace
// manager's artifact cache; concurrent Score calls are independent.
type Engine struct {
	logger     *slog.Logger
	workspaces *workspace.Manager
}

func NewEngine(logger *slog.Logger, workspaces *workspace.Manager) *Engine {
	return &Engine{
		logger:     logger,
		workspaces: workspaces,
	}
}

// Score evaluates the workspace with the given scorer and effective params.
// Errors come back as service errors carrying the scoring stage; the caller
// persists the result and converts failures at its envelope boundary.
func (e *Engine) Score(ic *invocation.Context, scorer Scorer, descriptor *api.WorkspaceDescriptor, params map[string]any) (*api.Result, error) {
	started := time.Now()
	request := &Request{
		Workspace: descriptor,
		Params:    params,
		Artifacts: NewArtifacts(e.workspaces, ic, descriptor),
	}

	outcome, err := scorer.Score(ic.Ctx, request)
	if err != nil {
		metrics.ScoringsTotal.WithLabelValues(scorer.Name(), metrics.OutcomeError).Inc()
		var se *serviceerrors.ServiceError
		if errors.As(err, &se) {
			return nil, se.WithStage(api.StageScoring)
		}
		return nil, serviceerrors.NewServiceError(messages.ScoringFailed,
			"Name", scorer.Name(), "Error", err.Error()).WithStage(api.StageScoring)
	}

	metrics.ScoringsTotal.WithLabelValues(scorer.Name(), metrics.OutcomeSuccess).Inc()
	result := &api.Result{
		Scorer:        scorer.Name(),
		ScorerVersion: scorer.Version(),
		Summary:       outcome.Summary,
		Metrics:       outcome.Metrics,
		Pass:          outcome.Pass,
		Details:       outcome.Details,
		CreatedAt:     api.DateTimeToString(time.Now().UTC()),
	}
	ic.Logger.Info("Scoring finished",
		constants.LOG_SCORER, scorer.Name(),
		"summary", result.Summary,
		"pass", result.Pass,
		"duration", time.Since(started).Seconds())
	return result, nil
}
