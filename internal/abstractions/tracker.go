package abstractions

import (
	"context"

	"github.com/scorehub/scorehub/pkg/api"
)

// Tracker publishes completed pipeline results to an external experiment
// tracking service. A nil tracker disables publishing.
type Tracker interface {
	// Publish records the run's result on the tracking server and returns the
	// tracking run id. Failures must never alter the pipeline outcome; the
	// caller logs them and moves on.
	Publish(ctx context.Context, record *api.RunRecord) (string, error)
}
