package constants

// Structured log field names shared across the codebase.
const (
	LOG_INVOCATION_ID = "invocation_id"
	LOG_OPERATION     = "operation"
	LOG_RUN_ID        = "run_id"
	LOG_WORKSPACE     = "workspace"
	LOG_MODE          = "mode"
	LOG_STAGE         = "stage"
	LOG_BACKEND       = "backend"
	LOG_SCORER        = "scorer"
	LOG_SOURCE        = "source"
	LOG_IMAGE         = "image"
	LOG_ERROR         = "error"
)

// Workspace layout file and directory names.
const (
	WORKSPACE_METADATA_FILE = "job.json"
	WORKSPACE_INPUT_DIR     = "input"
	WORKSPACE_OUTPUT_DIR    = "output"
	WORKSPACE_LOGS_DIR      = "logs"
	WORKSPACE_RESULT_FILE   = "result.json"
	WORKSPACE_RUN_INFO_FILE = "run.json"
	WORKSPACE_LOG_FILE      = "container.log"
)

// Default metadata values applied when the workspace omits them.
const (
	DEFAULT_TIMEOUT_SECONDS = 3600
	DEFAULT_CPU             = "1"
	DEFAULT_MEMORY          = "2Gi"
)

// Well known header carried over from transports that propagate one.
const HEADER_TRANSACTION_ID = "X-Global-Transaction-Id"

// Environment fallback consulted when the config never loaded.
const ENV_TERMINATION_FILE = "SCOREHUB_TERMINATION_FILE"
