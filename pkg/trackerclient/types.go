package trackerclient

// Run status values understood by the tracking API
const (
	RunStatusRunning  = "RUNNING"
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"
)

// Lifecycle stage of an experiment that can still receive runs
const LifecycleStageActive = "active"

// Experiment represents a tracking experiment
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
}

// ExperimentTag is a key/value annotation on an experiment
type ExperimentTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CreateExperimentRequest is the request to create an experiment
type CreateExperimentRequest struct {
	Name             string          `json:"name"`
	ArtifactLocation string          `json:"artifact_location,omitempty"`
	Tags             []ExperimentTag `json:"tags,omitempty"`
}

// CreateExperimentResponse is the response from creating an experiment
type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

// GetExperimentResponse is the response from fetching an experiment
type GetExperimentResponse struct {
	Experiment *Experiment `json:"experiment"`
}

// DeleteExperimentRequest marks an experiment as deleted
type DeleteExperimentRequest struct {
	ExperimentID string `json:"experiment_id"`
}

// RunTag is a key/value annotation on a run
type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metric is a named numeric observation, timestamped in epoch milliseconds
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// Param is a named string input of a run
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunInfo carries the identity and lifecycle fields of a tracking run
type RunInfo struct {
	RunID          string `json:"run_id"`
	ExperimentID   string `json:"experiment_id,omitempty"`
	RunName        string `json:"run_name,omitempty"`
	Status         string `json:"status,omitempty"`
	StartTime      int64  `json:"start_time,omitempty"`
	EndTime        int64  `json:"end_time,omitempty"`
	LifecycleStage string `json:"lifecycle_stage,omitempty"`
}

// Run represents a tracking run
type Run struct {
	Info *RunInfo `json:"info"`
}

// CreateRunRequest is the request to start a run
type CreateRunRequest struct {
	ExperimentID string   `json:"experiment_id"`
	RunName      string   `json:"run_name,omitempty"`
	StartTime    int64    `json:"start_time,omitempty"`
	Tags         []RunTag `json:"tags,omitempty"`
}

// CreateRunResponse is the response from starting a run
type CreateRunResponse struct {
	Run *Run `json:"run"`
}

// LogBatchRequest records metrics, params and tags on a run in one call
type LogBatchRequest struct {
	RunID   string   `json:"run_id"`
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []RunTag `json:"tags,omitempty"`
}

// UpdateRunRequest closes out a run with a terminal status
type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status,omitempty"`
	EndTime int64  `json:"end_time,omitempty"`
}

// UpdateRunResponse is the response from updating a run
type UpdateRunResponse struct {
	RunInfo *RunInfo `json:"run_info"`
}
