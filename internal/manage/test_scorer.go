package manage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "gopkg.in/evanphx/json-patch.v4"

	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

// TestScorer dry-runs scoring against a workspace: validate under the score
// profile, resolve, optionally overlay a params patch, score. Unlike a
// pipeline invocation nothing is persisted, neither a result file nor a
// history row.
func (m *Manager) TestScorer(ctx context.Context, request *api.TestScorerRequest) api.Envelope[api.Result] {
	ic := m.invocation(ctx, "manage.test_scorer")
	if info := checkRequest(m, ic, request, api.StageValidation); info != nil {
		return failure[api.Result](ic, info)
	}

	descriptor, err := m.workspaces.Load(ic, request.WorkspacePath, workspace.ProfileScore)
	if err != nil {
		return failure[api.Result](ic, serviceerrors.ToErrorInfo(err, api.StageValidation, api.CodeValidation))
	}
	if request.Scorer != "" {
		descriptor.Metadata.Scorer = request.Scorer
	}

	result, err := m.testScore(ic, descriptor, request.ParamsPatch)
	if err != nil {
		return failure[api.Result](ic, serviceerrors.ToErrorInfo(err, api.StageScoring, api.CodeScoring))
	}
	return success(ic, *result)
}

// testScore mirrors the pipeline's scoring stage, including its panic
// confinement, but skips the result write.
func (m *Manager) testScore(ic *invocation.Context, descriptor *api.WorkspaceDescriptor, patch json.RawMessage) (result *api.Result, err error) {
	registration, resolveErr := m.registry.Resolve(descriptor.Metadata.Scorer)
	if resolveErr != nil {
		return nil, restage(resolveErr, api.StageScoring)
	}

	params := registration.EffectiveParams(descriptor.Metadata.Params)
	if len(patch) > 0 {
		params, err = overlayParams(params, patch)
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.ParamsPatchInvalid,
				"Error", err.Error()).WithStage(api.StageScoring)
		}
	}
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

	return m.engine.Score(ic, registration.Scorer, descriptor, params)
}

// overlayParams applies an RFC 7386 merge patch over the effective params.
func overlayParams(params map[string]any, patch json.RawMessage) (map[string]any, error) {
	original, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, err
	}
	overlaid := map[string]any{}
	if err := json.Unmarshal(merged, &overlaid); err != nil {
		return nil, err
	}
	return overlaid, nil
}

// restage rewrites the stage on a service error, keeping its code.
func restage(err error, stage api.Stage) error {
	var se *serviceerrors.ServiceError
	if errors.As(err, &se) {
		return se.WithStage(stage)
	}
	return err
}
