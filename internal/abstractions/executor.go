package abstractions

import (
	"context"

	"github.com/scorehub/scorehub/pkg/api"
)

// Backend defines the capability of running one workspace job in a container.
// Concrete implementations hold the specific aspects of the various backends
// (i.e. Docker engine, Kubernetes, etc.). No other places in the code should
// be pointing directly to Docker, K8s or other backend specific details.
type Backend interface {
	Name() string

	// Execute runs the job described by the workspace descriptor and blocks
	// until it finishes, times out or fails. Every attempt that actually
	// started a container persists exactly one RunInfo into the workspace
	// logs section before returning.
	Execute(ctx context.Context, descriptor *api.WorkspaceDescriptor) api.Envelope[api.RunInfo]
}
