package config

// ExecutorConfig selects and parameterizes the container backend.
type ExecutorConfig struct {
	// Backend is "docker" or "kubernetes". Local mode forces docker.
	Backend    string           `mapstructure:"backend"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
}

type DockerConfig struct {
	// PullPolicy is "never", "if-not-present" or "always".
	PullPolicy       string `mapstructure:"pull_policy"`
	Network          string `mapstructure:"network"`
	StopGraceSeconds int    `mapstructure:"stop_grace_seconds"`
}

type KubernetesConfig struct {
	Namespace      string `mapstructure:"namespace"`
	ServiceAccount string `mapstructure:"service_account"`
	// WorkspacesClaim is the PVC holding the workspace tree; each job mounts
	// it with a subPath pointing at its own workspace.
	WorkspacesClaim string `mapstructure:"workspaces_claim"`
	// WorkspacesRoot is the path under which workspaces live on that volume.
	WorkspacesRoot string `mapstructure:"workspaces_root"`
	JobTTLSeconds  int    `mapstructure:"job_ttl_seconds"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`
}
