// Package executor runs workspace jobs in containers. Two backends implement
// the same capability: a local Docker engine and a Kubernetes cluster.
package executor

import (
	"fmt"
	"log/slog"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/config"
)

// New selects the backend named by the configuration. Local mode always runs
// against the Docker engine regardless of the configured backend.
func New(logger *slog.Logger, conf *config.Config) (abstractions.Backend, error) {
	backend := conf.Executor.Backend
	if conf.Service.LocalMode {
		backend = "docker"
	}
	switch backend {
	case "", "docker":
		return NewDockerBackend(logger, conf.Executor.Docker)
	case "kubernetes":
		return NewKubernetesBackend(logger, conf.Executor.Kubernetes)
	default:
		return nil, fmt.Errorf("unknown executor backend: %s", backend)
	}
}
