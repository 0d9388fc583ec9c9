package manage

import (
	"context"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// defaultPageLimit bounds history listings when the request does not carry
// a limit.
const defaultPageLimit = 50

// GetRun returns one run record by id.
func (m *Manager) GetRun(ctx context.Context, id string) api.Envelope[api.RunRecord] {
	ic := m.invocation(ctx, "manage.get_run")
	if id == "" {
		return failure[api.RunRecord](ic, fieldRequired("id", api.StageStorage))
	}
	store, info := m.store(ic)
	if info != nil {
		return failure[api.RunRecord](ic, info)
	}

	record, err := store.GetRun(id)
	if err != nil {
		return failure[api.RunRecord](ic, serviceerrors.ToErrorInfo(err, api.StageStorage, api.CodeStorage))
	}
	return success(ic, *record)
}

// ListRuns pages through the run history, newest first.
func (m *Manager) ListRuns(ctx context.Context, request *api.ListRunsRequest) api.Envelope[api.RunRecordList] {
	ic := m.invocation(ctx, "manage.list_runs")
	if request == nil {
		request = &api.ListRunsRequest{}
	}
	if info := checkRequest(m, ic, request, api.StageStorage); info != nil {
		return failure[api.RunRecordList](ic, info)
	}
	store, info := m.store(ic)
	if info != nil {
		return failure[api.RunRecordList](ic, info)
	}

	limit := request.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	results, err := store.GetRuns(limit, request.Offset, request.State)
	if err != nil {
		return failure[api.RunRecordList](ic, serviceerrors.ToErrorInfo(err, api.StageStorage, api.CodeStorage))
	}
	return success(ic, api.RunRecordList{
		Page:  api.Page{Limit: limit, TotalCount: results.TotalStored},
		Items: results.Items,
	})
}

// ListRegistryEvents reads the registry audit trail, newest first.
func (m *Manager) ListRegistryEvents(ctx context.Context, request *api.ListRegistryEventsRequest) api.Envelope[api.RegistryEventList] {
	ic := m.invocation(ctx, "manage.list_registry_events")
	if request == nil {
		request = &api.ListRegistryEventsRequest{}
	}
	if info := checkRequest(m, ic, request, api.StageStorage); info != nil {
		return failure[api.RegistryEventList](ic, info)
	}
	store, info := m.store(ic)
	if info != nil {
		return failure[api.RegistryEventList](ic, info)
	}

	limit := request.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	results, err := store.GetRegistryEvents(request.Source, limit)
	if err != nil {
		return failure[api.RegistryEventList](ic, serviceerrors.ToErrorInfo(err, api.StageStorage, api.CodeStorage))
	}
	return success(ic, api.RegistryEventList{
		TotalCount: results.TotalStored,
		Items:      results.Items,
	})
}

// store binds the history store to the invocation, or produces the failure
// info when no store is configured.
func (m *Manager) store(ic *invocation.Context) (abstractions.Storage, *api.ErrorInfo) {
	if m.storage == nil {
		err := serviceerrors.NewServiceError(messages.HistoryUnavailable).WithStage(api.StageStorage)
		return nil, serviceerrors.ToErrorInfo(err, api.StageStorage, api.CodeStorage)
	}
	return m.storage.WithContext(ic.Ctx).WithLogger(ic.Logger), nil
}
