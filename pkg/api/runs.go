package api

import "fmt"

// Mode selects which stages a pipeline invocation runs.
type Mode string

const (
	ModeRunOnly   Mode = "run_only"
	ModeScoreOnly Mode = "score_only"
	ModePipeline  Mode = "pipeline"
)

func GetMode(s string) (Mode, error) {
	switch s {
	case string(ModeRunOnly):
		return ModeRunOnly, nil
	case string(ModeScoreOnly):
		return ModeScoreOnly, nil
	case string(ModePipeline):
		return ModePipeline, nil
	default:
		return Mode(s), fmt.Errorf("invalid mode: %s", s)
	}
}

// RunState represents the pipeline state machine. Failed is absorbing and
// reachable from validating, executing and scoring.
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateValidating RunState = "validating"
	RunStateExecuting  RunState = "executing"
	RunStateScoring    RunState = "scoring"
	RunStateCompleted  RunState = "completed"
	RunStateFailed     RunState = "failed"
)

func (s RunState) String() string {
	return string(s)
}

func GetRunState(s string) (RunState, error) {
	switch s {
	case string(RunStatePending):
		return RunStatePending, nil
	case string(RunStateValidating):
		return RunStateValidating, nil
	case string(RunStateExecuting):
		return RunStateExecuting, nil
	case string(RunStateScoring):
		return RunStateScoring, nil
	case string(RunStateCompleted):
		return RunStateCompleted, nil
	case string(RunStateFailed):
		return RunStateFailed, nil
	default:
		return RunState(s), fmt.Errorf("invalid run state: %s", s)
	}
}

// PipelineOutcome is the success value of a full pipeline invocation.
// RunOnly invocations carry only Run, ScoreOnly only Result.
type PipelineOutcome struct {
	Run    *RunInfo `json:"run,omitempty"`
	Result *Result  `json:"result,omitempty"`
}

// RunRecord represents one pipeline invocation stored in the history database.
type RunRecord struct {
	Resource
	WorkspacePath string     `json:"workspace_path"`
	Mode          Mode       `json:"mode"`
	State         RunState   `json:"state"`
	Run           *RunInfo   `json:"run,omitempty"`
	Result        *Result    `json:"result,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
	TrackerRunID  string     `json:"tracker_run_id,omitempty"`
	StartedAt     DateTime   `json:"started_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CompletedAt   DateTime   `json:"completed_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// RunRecordList represents a page of run records
type RunRecordList struct {
	Page
	Items []RunRecord `json:"items"`
}

// RegistryEventKind tags the registry audit entries.
type RegistryEventKind string

const (
	RegistryEventLoad        RegistryEventKind = "load"
	RegistryEventReload      RegistryEventKind = "reload"
	RegistryEventWatchReload RegistryEventKind = "watch_reload"
	RegistryEventRegister    RegistryEventKind = "register"
	RegistryEventUnregister  RegistryEventKind = "unregister"
)

// RegistryEvent records one registry mutation for the audit trail. Error is
// empty for successful events.
type RegistryEvent struct {
	ID          string            `json:"id"`
	Kind        RegistryEventKind `json:"kind"`
	Source      string            `json:"source"`
	ScorerCount int               `json:"scorer_count,omitempty"`
	Error       string            `json:"error,omitempty"`
	At          DateTime          `json:"at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// RegistryEventList represents response for listing registry events
type RegistryEventList struct {
	TotalCount int             `json:"total_count"`
	Items      []RegistryEvent `json:"items,omitempty"`
}
