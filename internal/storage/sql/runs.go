package sql

import (
	"database/sql"
	"encoding/json"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

//#######################################################################
// Run history operations
//#######################################################################

// CreateRun inserts the run record into the runs table as a JSON entity.
// An id already on the record is kept so the row stays correlated with the
// invocation that produced it.
func (s *SQLStorage) CreateRun(run *api.RunRecord) error {
	if run.ID == "" {
		run.ID = s.generateID()
	}
	if run.State == "" {
		run.State = api.RunStatePending
	}
	entityJSON, err := json.Marshal(run)
	if err != nil {
		return err
	}
	insertStatement, err := createInsertRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	s.logger.Info("Creating run record", "id", run.ID, "status", string(run.State))
	_, err = s.exec(s.ctx, insertStatement, run.ID, s.timestamp(run.CreatedAt), s.timestamp(run.UpdatedAt), string(run.State), string(entityJSON))
	if err != nil {
		s.logger.Error("Failed to create run record", "error", err, "id", run.ID)
		return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error())
	}
	return nil
}

// GetRun returns the stored record. The entity column is the source of truth,
// the metadata columns only exist for filtering and ordering.
func (s *SQLStorage) GetRun(id string) (*api.RunRecord, error) {
	selectQuery, err := createGetRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return nil, err
	}

	var entityJSON string
	err = s.pool.QueryRowContext(s.ctx, selectQuery, id).Scan(&entityJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, serviceerrors.NewServiceError(messages.RecordNotFound, "Type", "run", "ResourceId", id)
		}
		s.logger.Error("Failed to get run record", "error", err, "id", id)
		return nil, serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", id, "Error", err.Error())
	}

	var record api.RunRecord
	if err := json.Unmarshal([]byte(entityJSON), &record); err != nil {
		s.logger.Error("Failed to unmarshal run entity", "error", err, "id", id)
		return nil, serviceerrors.NewServiceError(messages.JSONUnmarshalFailed, "Type", "run record", "Error", err.Error())
	}
	return &record, nil
}

// GetRuns lists stored runs newest first with the total row count, optionally
// filtered by state.
func (s *SQLStorage) GetRuns(limit int, offset int, stateFilter string) (*abstractions.QueryResults[api.RunRecord], error) {
	if limit <= 0 {
		limit = DEFAULT_LIST_LIMIT
	}
	if offset < 0 {
		offset = 0
	}

	// Get total count (with state filter if provided)
	countQuery, countArgs, err := createCountRunsStatement(s.sqlConfig.Driver, stateFilter)
	if err != nil {
		return nil, err
	}

	var totalStored int
	err = s.pool.QueryRowContext(s.ctx, countQuery, countArgs...).Scan(&totalStored)
	if err != nil {
		s.logger.Error("Failed to count run records", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
	}

	listQuery, listArgs, err := createListRunsStatement(s.sqlConfig.Driver, limit, offset, stateFilter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.QueryContext(s.ctx, listQuery, listArgs...)
	if err != nil {
		s.logger.Error("Failed to list run records", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
	}
	defer rows.Close()

	var items []api.RunRecord
	for rows.Next() {
		var entityJSON string
		if err := rows.Scan(&entityJSON); err != nil {
			s.logger.Error("Failed to scan run row", "error", err)
			return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
		}
		var record api.RunRecord
		if err := json.Unmarshal([]byte(entityJSON), &record); err != nil {
			s.logger.Error("Failed to unmarshal run entity", "error", err)
			return nil, serviceerrors.NewServiceError(messages.JSONUnmarshalFailed, "Type", "run record", "Error", err.Error())
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Error iterating run rows", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
	}

	return &abstractions.QueryResults[api.RunRecord]{Items: items, TotalStored: totalStored}, nil
}

// UpdateRun rewrites the stored entity. When the row is absent, for example
// because the insert was lost to a storage outage, the record is inserted
// instead so a terminal write still lands once the database is back.
func (s *SQLStorage) UpdateRun(run *api.RunRecord) error {
	if run.ID == "" {
		return serviceerrors.NewServiceError(messages.RecordNotFound, "Type", "run", "ResourceId", run.ID)
	}
	entityJSON, err := json.Marshal(run)
	if err != nil {
		return err
	}
	updateStatement, err := createUpdateRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	insertStatement, err := createInsertRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}

	err = s.withTransaction("update run", run.ID, func(txn *sql.Tx) error {
		result, err := txn.ExecContext(s.ctx, updateStatement, string(run.State), s.timestamp(run.UpdatedAt), string(entityJSON), run.ID)
		if err != nil {
			return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error()).WithRollback()
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error()).WithRollback()
		}
		if affected == 0 {
			if _, err := txn.ExecContext(s.ctx, insertStatement, run.ID, s.timestamp(run.CreatedAt), s.timestamp(run.UpdatedAt), string(run.State), string(entityJSON)); err != nil {
				return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error()).WithRollback()
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Updated run record", "id", run.ID, "status", string(run.State))
	return nil
}

// DeleteRun removes the run row for good.
func (s *SQLStorage) DeleteRun(id string) error {
	deleteQuery, err := createDeleteRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}

	result, err := s.exec(s.ctx, deleteQuery, id)
	if err != nil {
		s.logger.Error("Failed to delete run record", "error", err, "id", id)
		return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", id, "Error", err.Error())
	}
	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.Error("Failed to get rows affected", "error", err, "id", id)
		return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", id, "Error", err.Error())
	}
	if affected == 0 {
		return serviceerrors.NewServiceError(messages.RecordNotFound, "Type", "run", "ResourceId", id)
	}

	s.logger.Info("Deleted run record", "id", id)
	return nil
}
