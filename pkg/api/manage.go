package api

import "encoding/json"

// Request payloads of the management facade. Each is validated with the
// shared validator before the operation runs.

// RunPipelineRequest invokes the pipeline against a workspace. An empty mode
// runs the full pipeline.
type RunPipelineRequest struct {
	WorkspacePath string `json:"workspace_path" validate:"required,min=1"`
	Mode          string `json:"mode,omitempty"`
}

// RegisterScorerRequest registers one configured scorer directly, outside any
// pack manifest. Source is recorded for the audit trail and defaults to
// "inline".
type RegisterScorerRequest struct {
	Scorer  ScorerConfig `json:"scorer" validate:"required"`
	Source  string       `json:"source,omitempty"`
	Replace bool         `json:"replace,omitempty"`
}

// LoadSourceRequest loads a scorer-pack source, optionally establishing a
// change watch on it. A zero interval uses the registry default.
type LoadSourceRequest struct {
	Source          string `json:"source" validate:"required,min=1"`
	Watch           bool   `json:"watch,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty" validate:"omitempty,min=1"`
}

// ReloadSourceRequest re-parses a source and swaps its registrations.
type ReloadSourceRequest struct {
	Source string `json:"source" validate:"required,min=1"`
}

// WatchSourceRequest starts or replaces the change watch on a source.
type WatchSourceRequest struct {
	Source          string `json:"source" validate:"required,min=1"`
	IntervalSeconds int    `json:"interval_seconds,omitempty" validate:"omitempty,min=1"`
}

// UnwatchSourceRequest removes the change watch from a source.
type UnwatchSourceRequest struct {
	Source string `json:"source" validate:"required,min=1"`
}

// TestScorerRequest dry-runs scoring against a workspace without persisting
// a result or a history row. Scorer overrides the workspace's scorer name;
// ParamsPatch is an RFC 7386 merge patch applied over the effective params.
type TestScorerRequest struct {
	WorkspacePath string          `json:"workspace_path" validate:"required,min=1"`
	Scorer        string          `json:"scorer,omitempty"`
	ParamsPatch   json.RawMessage `json:"params_patch,omitempty"`
}

// ListRunsRequest pages through the run history, optionally filtered by
// state. A zero limit uses the facade default.
type ListRunsRequest struct {
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
	Offset int    `json:"offset,omitempty" validate:"omitempty,min=0"`
	State  string `json:"state,omitempty" validate:"omitempty,oneof=pending validating executing scoring completed failed"`
}

// ListRegistryEventsRequest reads the registry audit trail, newest first,
// optionally restricted to one source.
type ListRegistryEventsRequest struct {
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
}
