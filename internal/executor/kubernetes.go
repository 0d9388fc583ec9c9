package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

const (
	kubernetesBackendName = "kubernetes"
	defaultNamespace      = "default"
	defaultPollInterval   = 500 * time.Millisecond
)

// Waiting reasons that mean the image can never be pulled. They resolve to
// IMAGE_NOT_FOUND before the container ever starts.
var imagePullFailureReasons = map[string]bool{
	"ErrImagePull":     true,
	"ImagePullBackOff": true,
	"InvalidImageName": true,
}

// KubernetesBackend schedules workspace jobs as batch/v1 Jobs whose pods
// mount the shared workspaces volume.
type KubernetesBackend struct {
	logger    *slog.Logger
	clientset kubernetes.Interface
	conf      config.KubernetesConfig
}

// NewKubernetesBackend builds a cluster client, preferring the in-cluster
// config and falling back to the default kubeconfig for development.
func NewKubernetesBackend(logger *slog.Logger, conf config.KubernetesConfig) (*KubernetesBackend, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			clientcmd.NewDefaultClientConfigLoadingRules(),
			&clientcmd.ConfigOverrides{},
		).ClientConfig()
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.BackendUnavailable,
				"Backend", kubernetesBackendName, "Error", err.Error()).WithStage(api.StageExecution)
		}
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.BackendUnavailable,
			"Backend", kubernetesBackendName, "Error", err.Error()).WithStage(api.StageExecution)
	}
	return &KubernetesBackend{logger: logger, clientset: clientset, conf: conf}, nil
}

func (b *KubernetesBackend) Name() string {
	return kubernetesBackendName
}

// Execute schedules the job and blocks until it reaches a terminal state.
// RunInfo is persisted exactly once whenever the pod's main container
// started; the job object is always deleted before returning.
func (b *KubernetesBackend) Execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) api.Envelope[api.RunInfo] {
	started := time.Now()
	run, err := b.execute(ctx, descriptor)
	metrics.ExecutionDuration.WithLabelValues(kubernetesBackendName).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(kubernetesBackendName, outcomeLabel(err)).Inc()
		return api.FailureInfo[api.RunInfo](serviceerrors.ToErrorInfo(err, api.StageExecution, api.CodeBackend))
	}
	metrics.ExecutionsTotal.WithLabelValues(kubernetesBackendName, metrics.OutcomeSuccess).Inc()
	return api.Success(*run)
}

func (b *KubernetesBackend) execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) (*api.RunInfo, error) {
	metadata := &descriptor.Metadata
	attemptID := uuid.New().String()
	job, err := buildJob(b.conf, descriptor, attemptID)
	if err != nil {
		return nil, err
	}

	created, err := b.clientset.BatchV1().Jobs(b.namespace()).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", kubernetesBackendName, "Operation", "job create", "Error", err.Error()).WithStage(api.StageExecution)
	}
	defer b.deleteJob(created.Name)

	startedAt := time.Now().UTC()
	b.logger.Info("Job created",
		constants.LOG_IMAGE, metadata.Image, "job_name", created.Name, constants.LOG_WORKSPACE, descriptor.Path)

	waitCtx := ctx
	if metadata.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(metadata.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	outcome, waitErr := b.awaitOutcome(waitCtx, ctx, created.Name)
	finishedAt := time.Now().UTC()

	if outcome.pullReason != "" {
		// The container never started; the deferred delete tears the job
		// down and no run record is written.
		return nil, serviceerrors.NewServiceError(messages.ImageNotFound,
			"Image", metadata.Image, "Error", outcome.pullReason).WithStage(api.StageExecution)
	}
	if !outcome.started {
		if waitErr != nil {
			return nil, waitErr
		}
		if outcome.timedOut {
			return nil, serviceerrors.NewServiceError(messages.ExecutionTimeout,
				"TimeoutSeconds", metadata.TimeoutSeconds).WithStage(api.StageExecution)
		}
		return nil, serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", kubernetesBackendName, "Operation", "wait", "Error", "pod reached no terminal state").WithStage(api.StageExecution)
	}

	logPath := b.capturePodLogs(outcome.podName, descriptor)
	run := &api.RunInfo{
		ID:              attemptID,
		Backend:         kubernetesBackendName,
		Image:           metadata.Image,
		ExitCode:        outcome.exitCode,
		TimedOut:        outcome.timedOut,
		StartedAt:       api.DateTimeToString(startedAt),
		FinishedAt:      api.DateTimeToString(finishedAt),
		DurationSeconds: finishedAt.Sub(startedAt).Seconds(),
		Usage: api.ResourceUsage{
			CPULimit:    metadata.Resources.CPU,
			MemoryLimit: metadata.Resources.Memory,
			GPUCount:    metadata.Resources.GPU,
			OOMKilled:   outcome.oomKilled,
		},
		LogPath:    logPath,
		BackendRef: created.Name,
	}
	if err := workspace.WriteRunInfo(descriptor, run); err != nil {
		b.logger.Error("Failed to persist run info", "job_name", created.Name, constants.LOG_ERROR, err.Error())
	}

	switch {
	case outcome.timedOut:
		return run, serviceerrors.NewServiceError(messages.ExecutionTimeout,
			"TimeoutSeconds", metadata.TimeoutSeconds).WithStage(api.StageExecution)
	case waitErr != nil:
		return run, waitErr
	case outcome.oomKilled:
		return run, serviceerrors.NewServiceError(messages.ResourceExceeded,
			"Resource", "memory").WithStage(api.StageExecution)
	case outcome.exitCode != nil && *outcome.exitCode != 0:
		return run, serviceerrors.NewServiceError(messages.ContainerFailed,
			"ExitCode", *outcome.exitCode, "LogPath", logPath).WithStage(api.StageExecution)
	}
	return run, nil
}

// podOutcome is the terminal observation of one job pod.
type podOutcome struct {
	podName    string
	started    bool
	exitCode   *int
	oomKilled  bool
	timedOut   bool
	pullReason string
}

// awaitOutcome polls the job's pod until it terminates, the image proves
// unpullable, the job deadline fires or the caller gives up. jobCtx carries
// the job timeout; callerCtx distinguishes a timeout from a cancellation.
func (b *KubernetesBackend) awaitOutcome(jobCtx context.Context, callerCtx context.Context, jobName string) (*podOutcome, error) {
	outcome := &podOutcome{}
	ticker := time.NewTicker(b.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-jobCtx.Done():
			if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && callerCtx.Err() == nil {
				outcome.timedOut = true
				return outcome, nil
			}
			return outcome, serviceerrors.NewServiceError(messages.BackendOperationFailed,
				"Backend", kubernetesBackendName, "Operation", "wait", "Error", jobCtx.Err().Error()).WithStage(api.StageExecution)
		case <-ticker.C:
		}

		if job, err := b.clientset.BatchV1().Jobs(b.namespace()).Get(jobCtx, jobName, metav1.GetOptions{}); err == nil {
			for _, condition := range job.Status.Conditions {
				if condition.Type == batchv1.JobFailed && condition.Status == corev1.ConditionTrue &&
					condition.Reason == "DeadlineExceeded" {
					outcome.timedOut = true
					return outcome, nil
				}
			}
		}

		pods, err := b.clientset.CoreV1().Pods(b.namespace()).List(jobCtx, metav1.ListOptions{
			LabelSelector: "job-name=" + jobName,
		})
		if err != nil {
			if jobCtx.Err() != nil {
				continue
			}
			return outcome, serviceerrors.NewServiceError(messages.BackendOperationFailed,
				"Backend", kubernetesBackendName, "Operation", "pod list", "Error", err.Error()).WithStage(api.StageExecution)
		}
		if len(pods.Items) == 0 {
			continue
		}
		pod := &pods.Items[0]
		outcome.podName = pod.Name

		for _, status := range pod.Status.ContainerStatuses {
			if status.State.Running != nil || status.State.Terminated != nil {
				outcome.started = true
			}
			if waiting := status.State.Waiting; waiting != nil && imagePullFailureReasons[waiting.Reason] {
				outcome.pullReason = waiting.Reason + ": " + waiting.Message
				return outcome, nil
			}
		}

		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			zero := 0
			outcome.started = true
			outcome.exitCode = &zero
			return outcome, nil
		case corev1.PodFailed:
			outcome.started = true
			for _, status := range pod.Status.ContainerStatuses {
				if terminated := status.State.Terminated; terminated != nil {
					code := int(terminated.ExitCode)
					outcome.exitCode = &code
					outcome.oomKilled = terminated.Reason == "OOMKilled"
					break
				}
			}
			return outcome, nil
		}
	}
}

// capturePodLogs copies the pod output into the workspace log file on a
// fresh context. Best effort; partial logs beat no logs.
func (b *KubernetesBackend) capturePodLogs(podName string, descriptor *api.WorkspaceDescriptor) string {
	if podName == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	request := b.clientset.CoreV1().Pods(b.namespace()).GetLogs(podName, &corev1.PodLogOptions{Container: jobContainerName})
	stream, err := request.Stream(ctx)
	if err != nil {
		b.logger.Warn("Failed to read pod logs", "pod_name", podName, constants.LOG_ERROR, err.Error())
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
	if _, err := io.Copy(file, stream); err != nil {
		b.logger.Warn("Failed to copy pod logs", "pod_name", podName, constants.LOG_ERROR, err.Error())
	}
	return path
}

// deleteJob removes the job with background propagation on a fresh context,
// so cleanup happens even when the invocation context is already dead.
func (b *KubernetesBackend) deleteJob(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	propagation := metav1.DeletePropagationBackground
	err := b.clientset.BatchV1().Jobs(b.namespace()).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		b.logger.Warn("Failed to delete job", "job_name", name, constants.LOG_ERROR, err.Error())
	}
}

func (b *KubernetesBackend) namespace() string {
	if b.conf.Namespace == "" {
		return defaultNamespace
	}
	return b.conf.Namespace
}

func (b *KubernetesBackend) pollInterval() time.Duration {
	if b.conf.PollIntervalMS > 0 {
		return time.Duration(b.conf.PollIntervalMS) * time.Millisecond
	}
	return defaultPollInterval
}
