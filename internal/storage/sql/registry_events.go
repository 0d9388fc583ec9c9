package sql

import (
	"encoding/json"
	"time"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

//#######################################################################
// Registry audit operations
//#######################################################################

// RecordRegistryEvent appends one audit row. The registry fills id and event
// time before handing the event over, missing ones are generated here. The
// created_at column carries the insert instant so the audit trail lists in
// arrival order even when event times collide.
func (s *SQLStorage) RecordRegistryEvent(event *api.RegistryEvent) error {
	if event.ID == "" {
		event.ID = s.generateID()
	}
	if event.At == "" {
		event.At = api.DateTimeToString(time.Now().UTC())
	}
	entityJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}
	insertStatement, err := createInsertRegistryEventStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	_, err = s.exec(s.ctx, insertStatement, event.ID, s.timestamp(time.Now()), event.Source, string(entityJSON))
	if err != nil {
		s.logger.Error("Failed to record registry event", "error", err, "id", event.ID, "source", event.Source)
		return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "registry event", "ResourceId", event.ID, "Error", err.Error())
	}
	return nil
}

// GetRegistryEvents lists audit rows newest first, bounded by limit and
// optionally filtered by source.
func (s *SQLStorage) GetRegistryEvents(source string, limit int) (*abstractions.QueryResults[api.RegistryEvent], error) {
	if limit <= 0 {
		limit = DEFAULT_LIST_LIMIT
	}

	countQuery, countArgs, err := createCountRegistryEventsStatement(s.sqlConfig.Driver, source)
	if err != nil {
		return nil, err
	}

	var totalStored int
	err = s.pool.QueryRowContext(s.ctx, countQuery, countArgs...).Scan(&totalStored)
	if err != nil {
		s.logger.Error("Failed to count registry events", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "registry events", "Error", err.Error())
	}

	listQuery, listArgs, err := createListRegistryEventsStatement(s.sqlConfig.Driver, source, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.QueryContext(s.ctx, listQuery, listArgs...)
	if err != nil {
		s.logger.Error("Failed to list registry events", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "registry events", "Error", err.Error())
	}
	defer rows.Close()

	var items []api.RegistryEvent
	for rows.Next() {
		var entityJSON string
		if err := rows.Scan(&entityJSON); err != nil {
			s.logger.Error("Failed to scan registry event row", "error", err)
			return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "registry events", "Error", err.Error())
		}
		var event api.RegistryEvent
		if err := json.Unmarshal([]byte(entityJSON), &event); err != nil {
			s.logger.Error("Failed to unmarshal registry event entity", "error", err)
			return nil, serviceerrors.NewServiceError(messages.JSONUnmarshalFailed, "Type", "registry event", "Error", err.Error())
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Error iterating registry event rows", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "registry events", "Error", err.Error())
	}

	return &abstractions.QueryResults[api.RegistryEvent]{Items: items, TotalStored: totalStored}, nil
}
