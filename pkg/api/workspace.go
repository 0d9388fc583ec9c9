package api

import "fmt"

// TaskType declares which input/prediction artifacts a workspace carries.
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskGeneration     TaskType = "generation"
	TaskRegression     TaskType = "regression"
	TaskCustom         TaskType = "custom"
)

func GetTaskType(s string) (TaskType, error) {
	switch s {
	case string(TaskClassification):
		return TaskClassification, nil
	case string(TaskGeneration):
		return TaskGeneration, nil
	case string(TaskRegression):
		return TaskRegression, nil
	case string(TaskCustom):
		return TaskCustom, nil
	default:
		return TaskType(s), fmt.Errorf("invalid task type: %s", s)
	}
}

// ResourceRequest carries the resources a job container may use. Quantities
// use Kubernetes resource syntax ("500m", "2Gi") for both backends.
type ResourceRequest struct {
	CPU    string `mapstructure:"cpu" yaml:"cpu" json:"cpu,omitempty" validate:"omitempty,quantity"`
	Memory string `mapstructure:"memory" yaml:"memory" json:"memory,omitempty" validate:"omitempty,quantity"`
	GPU    int    `mapstructure:"gpu" yaml:"gpu" json:"gpu,omitempty" validate:"omitempty,gte=0"`
}

// JobMetadata is the schema of the workspace metadata file (job.json).
// Scorer is only required when a scoring stage is requested, Image only when
// an execution stage is requested; everything else has defaults.
type JobMetadata struct {
	Scorer         string          `json:"scorer,omitempty"`
	Params         map[string]any  `json:"params,omitempty"`
	Task           TaskType        `json:"task,omitempty" validate:"omitempty,oneof=classification generation regression custom"`
	Image          string          `json:"image,omitempty"`
	Command        []string        `json:"command,omitempty"`
	Env            []EnvVar        `json:"env,omitempty" validate:"omitempty,dive"`
	Resources      ResourceRequest `json:"resources,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty" validate:"omitempty,gt=0"`
}

// WorkspaceDescriptor is the validated view of a workspace that later stages
// reuse instead of re-reading raw files.
type WorkspaceDescriptor struct {
	Path      string      `json:"path"`
	InputDir  string      `json:"input_dir"`
	OutputDir string      `json:"output_dir"`
	LogsDir   string      `json:"logs_dir"`
	Metadata  JobMetadata `json:"metadata"`
}
