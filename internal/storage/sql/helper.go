package sql

import (
	"fmt"
	"strings"

	"github.com/scorehub/scorehub/pkg/api"
)

func getUnsupportedDriverError(driver string) error {
	return fmt.Errorf("unsupported driver: %s", driver)
}

func schemasForDriver(driver string) (string, error) {
	switch driver {
	case SQLITE_DRIVER:
		// better to be safe than sorry
		return strings.ReplaceAll(SQLITE_SCHEMA, "pending", string(api.RunStatePending)), nil
	case POSTGRES_DRIVER:
		// better to be safe than sorry
		return strings.ReplaceAll(POSTGRES_SCHEMA, "pending", string(api.RunStatePending)), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// quoteIdentifier properly quotes an identifier for the given driver
func quoteIdentifier(_ /*driver*/ string, identifier string) string {
	// Escape double quotes by doubling them
	escaped := strings.ReplaceAll(identifier, `"`, `""`)
	return fmt.Sprintf(`"%s"`, escaped)
}

// createInsertRunStatement returns a driver-specific INSERT statement for the
// runs table with the appropriate placeholder syntax
func createInsertRunStatement(driver string) (string, error) {
	quotedTable := quoteIdentifier(driver, TABLE_RUNS)

	switch driver {
	case POSTGRES_DRIVER:
		return fmt.Sprintf(`INSERT INTO %s (id, created_at, updated_at, status, entity) VALUES ($1, $2, $3, $4, $5);`, quotedTable), nil
	case SQLITE_DRIVER:
		// SQLite: use ? placeholders
		return fmt.Sprintf(`INSERT INTO %s (id, created_at, updated_at, status, entity) VALUES (?, ?, ?, ?, ?);`, quotedTable), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createGetRunStatement returns a driver-specific SELECT statement to
// retrieve a run entity by ID
func createGetRunStatement(driver string) (string, error) {
	quotedTable := quoteIdentifier(driver, TABLE_RUNS)

	switch driver {
	case POSTGRES_DRIVER:
		return fmt.Sprintf(`SELECT entity FROM %s WHERE id = $1;`, quotedTable), nil
	case SQLITE_DRIVER:
		// SQLite: use ? placeholder
		return fmt.Sprintf(`SELECT entity FROM %s WHERE id = ?;`, quotedTable), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createCountRunsStatement returns a driver-specific COUNT statement,
// optionally filtered by status
func createCountRunsStatement(driver string, stateFilter string) (string, []any, error) {
	quotedTable := quoteIdentifier(driver, TABLE_RUNS)

	var query string
	var args []any

	switch driver {
	case POSTGRES_DRIVER:
		if stateFilter != "" {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = $1;`, quotedTable)
			args = []any{stateFilter}
		} else {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quotedTable)
		}
	case SQLITE_DRIVER:
		if stateFilter != "" {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = ?;`, quotedTable)
			args = []any{stateFilter}
		} else {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quotedTable)
		}
	default:
		return "", nil, getUnsupportedDriverError(driver)
	}

	return query, args, nil
}

// createListRunsStatement returns a driver-specific SELECT statement to list
// run entities with pagination, newest first, optionally filtered by status.
// The id tiebreak keeps pages stable for rows created in the same instant.
func createListRunsStatement(driver string, limit, offset int, stateFilter string) (string, []any, error) {
	quotedTable := quoteIdentifier(driver, TABLE_RUNS)

	var query string
	var args []any

	switch driver {
	case POSTGRES_DRIVER:
		if stateFilter != "" {
			query = fmt.Sprintf(`SELECT entity FROM %s WHERE status = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3;`, quotedTable)
			args = []any{stateFilter, limit, offset}
		} else {
			query = fmt.Sprintf(`SELECT entity FROM %s ORDER BY created_at DESC, id LIMIT $1 OFFSET $2;`, quotedTable)
			args = []any{limit, offset}
		}
	case SQLITE_DRIVER:
		if stateFilter != "" {
			query = fmt.Sprintf(`SELECT entity FROM %s WHERE status = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?;`, quotedTable)
			args = []any{stateFilter, limit, offset}
		} else {
			query = fmt.Sprintf(`SELECT entity FROM %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?;`, quotedTable)
			args = []any{limit, offset}
		}
	default:
		return "", nil, getUnsupportedDriverError(driver)
	}

	return query, args, nil
}

// createUpdateRunStatement returns a driver-specific UPDATE statement
// rewriting status, updated_at and the entity of a run by ID
func createUpdateRunStatement(driver string) (string, error) {
	quotedTable := quoteIdentifier(driver, TABLE_RUNS)

	switch driver {
	case POSTGRES_DRIVER:
		// PostgreSQL: use $1, $2 placeholders
		return fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2, entity = $3 WHERE id = $4;`, quotedTable), nil
	case SQLITE_DRIVER:
		// SQLite: use ? placeholders
		return fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ?, entity = ? WHERE id = ?;`, quotedTable), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createDeleteRunStatement returns a driver-specific DELETE statement to
// delete a run by ID
func createDeleteRunStatement(driver string) (string, error) {
	quotedTable := quoteIdentifier(driver, TABLE_RUNS)

	switch driver {
	case POSTGRES_DRIVER:
		// PostgreSQL: use $1 placeholder
		return fmt.Sprintf(`DELETE FROM %s WHERE id = $1;`, quotedTable), nil
	case SQLITE_DRIVER:
		// SQLite: use ? placeholder
		return fmt.Sprintf(`DELETE FROM %s WHERE id = ?;`, quotedTable), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createInsertRegistryEventStatement returns a driver-specific INSERT
// statement for the registry audit table
func createInsertRegistryEventStatement(driver string) (string, error) {
	quotedTable := quoteIdentifier(driver, TABLE_REGISTRY_EVENTS)

	switch driver {
	case POSTGRES_DRIVER:
		return fmt.Sprintf(`INSERT INTO %s (id, created_at, source, entity) VALUES ($1, $2, $3, $4);`, quotedTable), nil
	case SQLITE_DRIVER:
		// SQLite: use ? placeholders
		return fmt.Sprintf(`INSERT INTO %s (id, created_at, source, entity) VALUES (?, ?, ?, ?);`, quotedTable), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createCountRegistryEventsStatement returns a driver-specific COUNT
// statement for audit rows, optionally filtered by source
func createCountRegistryEventsStatement(driver string, source string) (string, []any, error) {
	quotedTable := quoteIdentifier(driver, TABLE_REGISTRY_EVENTS)

	var query string
	var args []any

	switch driver {
	case POSTGRES_DRIVER:
		if source != "" {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE source = $1;`, quotedTable)
			args = []any{source}
		} else {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quotedTable)
		}
	case SQLITE_DRIVER:
		if source != "" {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE source = ?;`, quotedTable)
			args = []any{source}
		} else {
			query = fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quotedTable)
		}
	default:
		return "", nil, getUnsupportedDriverError(driver)
	}

	return query, args, nil
}

// createListRegistryEventsStatement returns a driver-specific SELECT
// statement listing audit rows newest first, optionally filtered by source
func createListRegistryEventsStatement(driver string, source string, limit int) (string, []any, error) {
	quotedTable := quoteIdentifier(driver, TABLE_REGISTRY_EVENTS)

	var query string
	var args []any

	switch driver {
	case POSTGRES_DRIVER:
		if source != "" {
			query = fmt.Sprintf(`SELECT entity FROM %s WHERE source = $1 ORDER BY created_at DESC, id LIMIT $2;`, quotedTable)
			args = []any{source, limit}
		} else {
			query = fmt.Sprintf(`SELECT entity FROM %s ORDER BY created_at DESC, id LIMIT $1;`, quotedTable)
			args = []any{limit}
		}
	case SQLITE_DRIVER:
		if source != "" {
			query = fmt.Sprintf(`SELECT entity FROM %s WHERE source = ? ORDER BY created_at DESC, id LIMIT ?;`, quotedTable)
			args = []any{source, limit}
		} else {
			query = fmt.Sprintf(`SELECT entity FROM %s ORDER BY created_at DESC, id LIMIT ?;`, quotedTable)
			args = []any{limit}
		}
	default:
		return "", nil, getUnsupportedDriverError(driver)
	}

	return query, args, nil
}
