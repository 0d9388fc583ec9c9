package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

const (
	dockerBackendName       = "docker"
	defaultStopGraceSeconds = 10
	cleanupTimeout          = 30 * time.Second

	// Mount targets inside the job container.
	containerInputDir  = "/data/input"
	containerOutputDir = "/data/output"
	containerLogsDir   = "/data/logs"
)

// Pull policies for the Docker backend.
const (
	PullNever        = "never"
	PullIfNotPresent = "if-not-present"
	PullAlways       = "always"
)

// dockerAPI is the slice of the Docker engine client the backend uses. The
// concrete *client.Client satisfies it; tests substitute a fake.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerBackend executes workspace jobs as containers on a local Docker
// engine. It holds no per-job state; one instance serves all invocations.
type DockerBackend struct {
	logger *slog.Logger
	api    dockerAPI
	conf   config.DockerConfig
}

// NewDockerBackend connects to the engine named by the standard environment
// (DOCKER_HOST and friends) with API version negotiation.
func NewDockerBackend(logger *slog.Logger, conf config.DockerConfig) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.BackendUnavailable,
			"Backend", dockerBackendName, "Error", err.Error()).WithStage(api.StageExecution)
	}
	if conf.StopGraceSeconds <= 0 {
		conf.StopGraceSeconds = defaultStopGraceSeconds
	}
	return &DockerBackend{logger: logger, api: cli, conf: conf}, nil
}

func (b *DockerBackend) Name() string {
	return dockerBackendName
}

// Execute runs the workspace job and blocks until it reaches a terminal
// state. Every attempt that created a container persists exactly one RunInfo
// before this returns, success or not.
func (b *DockerBackend) Execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) api.Envelope[api.RunInfo] {
	started := time.Now()
	run, err := b.execute(ctx, descriptor)
	metrics.ExecutionDuration.WithLabelValues(dockerBackendName).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(dockerBackendName, outcomeLabel(err)).Inc()
		return api.FailureInfo[api.RunInfo](serviceerrors.ToErrorInfo(err, api.StageExecution, api.CodeBackend))
	}
	metrics.ExecutionsTotal.WithLabelValues(dockerBackendName, metrics.OutcomeSuccess).Inc()
	return api.Success(*run)
}

func (b *DockerBackend) execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) (*api.RunInfo, error) {
	metadata := &descriptor.Metadata
	if err := b.ensureImage(ctx, metadata.Image); err != nil {
		return nil, err
	}

	resources, err := translateResources(&metadata.Resources)
	if err != nil {
		return nil, err
	}

	attemptID := uuid.New().String()
	containerConfig := &container.Config{
		Image:  metadata.Image,
		Cmd:    metadata.Command,
		Env:    envList(metadata.Env),
		Labels: jobLabels(descriptor.Path),
	}
	hostConfig := &container.HostConfig{
		Binds: []string{
			descriptor.InputDir + ":" + containerInputDir + ":ro",
			descriptor.OutputDir + ":" + containerOutputDir,
			descriptor.LogsDir + ":" + containerLogsDir,
		},
		NetworkMode: container.NetworkMode(b.network()),
		Resources:   resources,
	}

	created, err := b.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "scorehub-"+attemptID[:8])
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", dockerBackendName, "Operation", "create", "Error", err.Error()).WithStage(api.StageExecution)
	}
	defer b.removeContainer(created.ID)

	startedAt := time.Now().UTC()
	if err := b.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", dockerBackendName, "Operation", "start", "Error", err.Error()).WithStage(api.StageExecution)
	}
	b.logger.Info("Container started",
		constants.LOG_IMAGE, metadata.Image, "container_id", created.ID, constants.LOG_WORKSPACE, descriptor.Path)

	exitCode, timedOut, waitErr := b.waitForExit(ctx, created.ID, metadata.TimeoutSeconds)
	finishedAt := time.Now().UTC()

	logPath := b.captureLogs(created.ID, descriptor)
	oomKilled := false
	inspectCtx, cancelInspect := context.WithTimeout(context.Background(), cleanupTimeout)
	if inspected, err := b.api.ContainerInspect(inspectCtx, created.ID); err == nil && inspected.State != nil {
		oomKilled = inspected.State.OOMKilled
		if exitCode == nil {
			code := inspected.State.ExitCode
			exitCode = &code
		}
	}
	cancelInspect()

	run := &api.RunInfo{
		ID:              attemptID,
		Backend:         dockerBackendName,
		Image:           metadata.Image,
		ExitCode:        exitCode,
		TimedOut:        timedOut,
		StartedAt:       api.DateTimeToString(startedAt),
		FinishedAt:      api.DateTimeToString(finishedAt),
		DurationSeconds: finishedAt.Sub(startedAt).Seconds(),
		Usage: api.ResourceUsage{
			CPULimit:    metadata.Resources.CPU,
			MemoryLimit: metadata.Resources.Memory,
			GPUCount:    metadata.Resources.GPU,
			OOMKilled:   oomKilled,
		},
		LogPath:    logPath,
		BackendRef: created.ID,
	}
	if err := workspace.WriteRunInfo(descriptor, run); err != nil {
		b.logger.Error("Failed to persist run info", "container_id", created.ID, constants.LOG_ERROR, err.Error())
	}

	switch {
	case timedOut:
		return run, serviceerrors.NewServiceError(messages.ExecutionTimeout,
			"TimeoutSeconds", metadata.TimeoutSeconds).WithStage(api.StageExecution)
	case waitErr != nil:
		return run, waitErr
	case oomKilled:
		return run, serviceerrors.NewServiceError(messages.ResourceExceeded,
			"Resource", "memory").WithStage(api.StageExecution)
	case exitCode != nil && *exitCode != 0:
		return run, serviceerrors.NewServiceError(messages.ContainerFailed,
			"ExitCode", *exitCode, "LogPath", logPath).WithStage(api.StageExecution)
	}
	return run, nil
}

// ensureImage resolves the image according to the pull policy before any
// container exists, so missing images fail fast without a run record.
func (b *DockerBackend) ensureImage(ctx context.Context, ref string) error {
	policy := b.conf.PullPolicy
	if policy == "" {
		policy = PullIfNotPresent
	}

	if policy != PullAlways {
		_, err := b.api.ImageInspect(ctx, ref)
		if err == nil {
			return nil
		}
		if !cerrdefs.IsNotFound(err) {
			return serviceerrors.NewServiceError(messages.BackendOperationFailed,
				"Backend", dockerBackendName, "Operation", "image inspect", "Error", err.Error()).WithStage(api.StageExecution)
		}
		if policy == PullNever {
			return serviceerrors.NewServiceError(messages.ImageNotFound,
				"Image", ref, "Error", err.Error()).WithStage(api.StageExecution)
		}
	}

	reader, err := b.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return serviceerrors.NewServiceError(messages.ImageNotFound,
			"Image", ref, "Error", err.Error()).WithStage(api.StageExecution)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return serviceerrors.NewServiceError(messages.ImageNotFound,
			"Image", ref, "Error", err.Error()).WithStage(api.StageExecution)
	}
	return nil
}

// waitForExit blocks until the container exits, the job timeout elapses or
// the caller cancels. On timeout the container is force-stopped with the
// configured grace so partial logs survive.
func (b *DockerBackend) waitForExit(ctx context.Context, containerID string, timeoutSeconds int) (*int, bool, error) {
	waitCtx := ctx
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	statusCh, errCh := b.api.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		code := int(status.StatusCode)
		if status.Error != nil {
			return &code, false, serviceerrors.NewServiceError(messages.BackendOperationFailed,
				"Backend", dockerBackendName, "Operation", "wait", "Error", status.Error.Message).WithStage(api.StageExecution)
		}
		return &code, false, nil
	case err := <-errCh:
		if err == nil {
			return nil, false, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, false, serviceerrors.NewServiceError(messages.BackendOperationFailed,
				"Backend", dockerBackendName, "Operation", "wait", "Error", err.Error()).WithStage(api.StageExecution)
		}
		b.stopContainer(containerID)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, true, nil
		}
		return nil, false, serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", dockerBackendName, "Operation", "wait", "Error", err.Error()).WithStage(api.StageExecution)
	case <-waitCtx.Done():
		b.stopContainer(containerID)
		// Deadline on the wait context with a still-live caller context is
		// the job timeout; anything else is a caller cancellation.
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, true, nil
		}
		return nil, false, serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", dockerBackendName, "Operation", "wait", "Error", waitCtx.Err().Error()).WithStage(api.StageExecution)
	}
}

// stopContainer force-stops with the configured grace on a fresh context, so
// it works even when the job context is already dead.
func (b *DockerBackend) stopContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	grace := b.conf.StopGraceSeconds
	if grace <= 0 {
		grace = defaultStopGraceSeconds
	}
	if err := b.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		b.logger.Warn("Failed to stop container", "container_id", containerID, constants.LOG_ERROR, err.Error())
	}
}

func (b *DockerBackend) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := b.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		b.logger.Warn("Failed to remove container", "container_id", containerID, constants.LOG_ERROR, err.Error())
	}
}

// captureLogs copies the demultiplexed container output into the workspace
// log file. Best effort: a capture failure never fails the attempt.
func (b *DockerBackend) captureLogs(containerID string, descriptor *api.WorkspaceDescriptor) string {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	stream, err := b.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		b.logger.Warn("Failed to read container logs", "container_id", containerID, constants.LOG_ERROR, err.Error())
		return ""
	}
	defer stream.Close()

	path := workspace.LogFilePath(descriptor)
	file, err := os.Create(path)
	if err != nil {
		b.logger.Warn("Failed to create log file", "path", path, constants.LOG_ERROR, err.Error())
		return ""
	}
	defer file.Close()
	if _, err := stdcopy.StdCopy(file, file, stream); err != nil {
		b.logger.Warn("Failed to copy container logs", "container_id", containerID, constants.LOG_ERROR, err.Error())
	}
	return path
}

func (b *DockerBackend) network() string {
	if b.conf.Network == "" {
		return "none"
	}
	return b.conf.Network
}

// translateResources converts the workspace quantities into engine units:
// CPU to NanoCPUs, memory to bytes, GPUs to an nvidia device request.
func translateResources(request *api.ResourceRequest) (container.Resources, error) {
	resources := container.Resources{}
	if request.CPU != "" {
		quantity, err := resource.ParseQuantity(request.CPU)
		if err != nil {
			return resources, serviceerrors.NewServiceError(messages.QuantityInvalid,
				"Value", request.CPU, "Field", "resources.cpu", "Error", err.Error()).WithStage(api.StageExecution)
		}
		resources.NanoCPUs = quantity.MilliValue() * 1_000_000
	}
	if request.Memory != "" {
		quantity, err := resource.ParseQuantity(request.Memory)
		if err != nil {
			return resources, serviceerrors.NewServiceError(messages.QuantityInvalid,
				"Value", request.Memory, "Field", "resources.memory", "Error", err.Error()).WithStage(api.StageExecution)
		}
		resources.Memory = quantity.Value()
	}
	if request.GPU > 0 {
		resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        request.GPU,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return resources, nil
}

func envList(vars []api.EnvVar) []string {
	if len(vars) == 0 {
		return nil
	}
	env := make([]string, 0, len(vars))
	for _, item := range vars {
		env = append(env, fmt.Sprintf("%s=%s", item.Name, item.Value))
	}
	return env
}

func jobLabels(workspacePath string) map[string]string {
	return map[string]string{
		"app":       "scorehub",
		"component": "pipeline-job",
		"workspace": workspacePath,
	}
}

// outcomeLabel maps an execution error onto the metrics outcome label.
func outcomeLabel(err error) string {
	var se *serviceerrors.ServiceError
	if errors.As(err, &se) && se.MessageCode().GetCode() == api.CodeTimeout {
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}
