package abstractions

import (
	"context"
	"log/slog"
	"time"

	"github.com/scorehub/scorehub/pkg/api"
)

type QueryResults[T any] struct {
	Items       []T
	TotalStored int
}

type Storage interface {
	WithLogger(logger *slog.Logger) Storage
	WithContext(ctx context.Context) Storage

	// This is used to identify the storage implementation in the logs and error messages
	GetDatasourceName() string

	Ping(timeout time.Duration) error

	// Run history operations
	CreateRun(run *api.RunRecord) error
	GetRun(id string) (*api.RunRecord, error)
	GetRuns(limit int, offset int, stateFilter string) (*QueryResults[api.RunRecord], error)
	UpdateRun(run *api.RunRecord) error
	DeleteRun(id string) error

	// Registry audit operations
	RecordRegistryEvent(event *api.RegistryEvent) error
	GetRegistryEvents(source string, limit int) (*QueryResults[api.RegistryEvent], error)

	// Close the storage connection
	Close() error
}

// This interface must be decoupled from any transport layer.
// Do not pass invocation contexts, request or response wrappers either.
