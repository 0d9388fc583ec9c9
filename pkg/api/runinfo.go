package api

// ResourceUsage is the snapshot of enforced limits and observed consumption
// for one execution attempt. Observed fields are best effort; backends omit
// what they cannot report.
type ResourceUsage struct {
	CPULimit       string `json:"cpu_limit,omitempty"`
	MemoryLimit    string `json:"memory_limit,omitempty"`
	GPUCount       int    `json:"gpu_count,omitempty"`
	MaxMemoryBytes int64  `json:"max_memory_bytes,omitempty"`
	OOMKilled      bool   `json:"oom_killed,omitempty"`
}

// RunInfo is the immutable record of one execution attempt. It is produced
// exactly once per attempt and persisted to the workspace logs section
// whenever a container was actually started.
type RunInfo struct {
	ID              string        `json:"id"`
	Backend         string        `json:"backend"`
	Image           string        `json:"image"`
	ExitCode        *int          `json:"exit_code,omitempty"`
	TimedOut        bool          `json:"timed_out,omitempty"`
	StartedAt       DateTime      `json:"started_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	FinishedAt      DateTime      `json:"finished_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	DurationSeconds float64       `json:"duration_seconds"`
	Usage           ResourceUsage `json:"usage"`
	LogPath         string        `json:"log_path,omitempty"`
	BackendRef      string        `json:"backend_ref,omitempty"`
}
