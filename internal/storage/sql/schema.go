package sql

// Timestamps are stored as fixed-width UTC text so that ORDER BY created_at
// sorts chronologically under both drivers.

const SQLITE_SCHEMA = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    entity TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at
ON runs (created_at);

CREATE INDEX IF NOT EXISTS idx_runs_status
ON runs (status);

CREATE TABLE IF NOT EXISTS registry_events (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    source TEXT NOT NULL,
    entity TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_registry_events_created_at
ON registry_events (created_at);

CREATE INDEX IF NOT EXISTS idx_registry_events_source
ON registry_events (source);
`

const POSTGRES_SCHEMA = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    entity JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at
ON runs (created_at);

CREATE INDEX IF NOT EXISTS idx_runs_status
ON runs (status);

CREATE TABLE IF NOT EXISTS registry_events (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    source TEXT NOT NULL,
    entity JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_registry_events_created_at
ON registry_events (created_at);

CREATE INDEX IF NOT EXISTS idx_registry_events_source
ON registry_events (source);
`
