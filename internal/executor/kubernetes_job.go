package executor

// Builders that construct the Kubernetes objects for one execution attempt.

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

const (
	maxK8sNameLength     = 63
	defaultJobTTLSeconds = int32(3600)
	jobNamePrefix        = "scorehub-"
	jobContainerName     = "job"
	workspaceVolumeName  = "workspaces"

	labelAppKey         = "app"
	labelComponentKey   = "component"
	labelAttemptKey     = "attempt_id"
	labelAppValue       = "scorehub"
	labelComponentValue = "pipeline-job"

	gpuResourceName = corev1.ResourceName("nvidia.com/gpu")

	defaultRunAsUser  = int64(1000)
	defaultRunAsGroup = int64(1000)
	capabilityDropAll = "ALL"
)

var dnsLabelSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

func sanitizeDNS1123Label(value string) string {
	safe := strings.ToLower(value)
	safe = dnsLabelSanitizer.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-")
	if safe == "" {
		return "x"
	}
	return safe
}

func buildJobName(attemptID string) string {
	name := jobNamePrefix + sanitizeDNS1123Label(attemptID)
	if len(name) > maxK8sNameLength {
		name = strings.Trim(name[:maxK8sNameLength], "-")
	}
	return name
}

func buildJob(conf config.KubernetesConfig, descriptor *api.WorkspaceDescriptor, attemptID string) (*batchv1.Job, error) {
	metadata := &descriptor.Metadata
	resources, err := buildResourceRequirements(&metadata.Resources)
	if err != nil {
		return nil, err
	}
	subPath, err := workspaceSubPath(conf.WorkspacesRoot, descriptor.Path)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		labelAppKey:       labelAppValue,
		labelComponentKey: labelComponentValue,
		labelAttemptKey:   sanitizeDNS1123Label(attemptID),
	}
	backoff := int32(0)
	ttl := defaultJobTTLSeconds
	if conf.JobTTLSeconds > 0 {
		ttl = int32(conf.JobTTLSeconds)
	}
	var activeDeadline *int64
	if metadata.TimeoutSeconds > 0 {
		deadline := int64(metadata.TimeoutSeconds)
		activeDeadline = &deadline
	}

	spec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{
			{
				Name:            jobContainerName,
				Image:           metadata.Image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Command:         metadata.Command,
				Env:             buildEnvVars(metadata.Env),
				Resources:       resources,
				SecurityContext: defaultSecurityContext(),
				VolumeMounts: []corev1.VolumeMount{
					{
						Name:      workspaceVolumeName,
						MountPath: containerInputDir,
						SubPath:   path.Join(subPath, constants.WORKSPACE_INPUT_DIR),
						ReadOnly:  true,
					},
					{
						Name:      workspaceVolumeName,
						MountPath: containerOutputDir,
						SubPath:   path.Join(subPath, constants.WORKSPACE_OUTPUT_DIR),
					},
					{
						Name:      workspaceVolumeName,
						MountPath: containerLogsDir,
						SubPath:   path.Join(subPath, constants.WORKSPACE_LOGS_DIR),
					},
				},
			},
		},
		Volumes: []corev1.Volume{
			{
				Name: workspaceVolumeName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: conf.WorkspacesClaim,
					},
				},
			},
		},
	}
	if conf.ServiceAccount != "" {
		spec.ServiceAccountName = conf.ServiceAccount
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:   buildJobName(attemptID),
			Labels: labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   activeDeadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: spec,
			},
		},
	}, nil
}

// workspaceSubPath resolves the workspace location relative to the shared
// workspaces volume. With no configured root the claim is assumed to hold
// workspaces flat, keyed by directory name.
func workspaceSubPath(root string, workspacePath string) (string, error) {
	if root == "" {
		return filepath.Base(workspacePath), nil
	}
	rel, err := filepath.Rel(root, workspacePath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", serviceerrors.NewServiceError(messages.BackendOperationFailed,
			"Backend", kubernetesBackendName, "Operation", "resolve workspace subpath",
			"Error", "workspace "+workspacePath+" is outside the workspaces root "+root).WithStage(api.StageExecution)
	}
	return filepath.ToSlash(rel), nil
}

func buildEnvVars(vars []api.EnvVar) []corev1.EnvVar {
	var env []corev1.EnvVar
	seen := map[string]bool{}
	for _, item := range vars {
		if item.Name == "" || seen[item.Name] {
			continue
		}
		seen[item.Name] = true
		env = append(env, corev1.EnvVar{Name: item.Name, Value: item.Value})
	}
	return env
}

func buildResourceRequirements(request *api.ResourceRequest) (corev1.ResourceRequirements, error) {
	requirements := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	if request.CPU != "" {
		quantity, err := resource.ParseQuantity(request.CPU)
		if err != nil {
			return corev1.ResourceRequirements{}, serviceerrors.NewServiceError(messages.QuantityInvalid,
				"Value", request.CPU, "Field", "resources.cpu", "Error", err.Error()).WithStage(api.StageExecution)
		}
		requirements.Requests[corev1.ResourceCPU] = quantity
		requirements.Limits[corev1.ResourceCPU] = quantity
	}
	if request.Memory != "" {
		quantity, err := resource.ParseQuantity(request.Memory)
		if err != nil {
			return corev1.ResourceRequirements{}, serviceerrors.NewServiceError(messages.QuantityInvalid,
				"Value", request.Memory, "Field", "resources.memory", "Error", err.Error()).WithStage(api.StageExecution)
		}
		requirements.Requests[corev1.ResourceMemory] = quantity
		requirements.Limits[corev1.ResourceMemory] = quantity
	}
	if request.GPU > 0 {
		requirements.Limits[gpuResourceName] = *resource.NewQuantity(int64(request.GPU), resource.DecimalSI)
	}
	if len(requirements.Requests) == 0 {
		requirements.Requests = nil
	}
	if len(requirements.Limits) == 0 {
		requirements.Limits = nil
	}
	return requirements, nil
}

func defaultSecurityContext() *corev1.SecurityContext {
	runAsUser := defaultRunAsUser
	runAsGroup := defaultRunAsGroup
	nonRoot := true
	noEscalation := false
	return &corev1.SecurityContext{
		AllowPrivilegeEscalation: &noEscalation,
		RunAsNonRoot:             &nonRoot,
		RunAsUser:                &runAsUser,
		RunAsGroup:               &runAsGroup,
		Capabilities: &corev1.Capabilities{
			Drop: []corev1.Capability{capabilityDropAll},
		},
		SeccompProfile: &corev1.SeccompProfile{
			Type: corev1.SeccompProfileTypeRuntimeDefault,
		},
	}
}
