package scoring

import (
	"context"

	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

// Scorer evaluates the produced artifacts of one workspace against its
// ground truth. Implementations must be safe for concurrent Score calls;
// the registry hands the same instance to every pipeline invocation.
type Scorer interface {
	Name() string
	Version() string
	Score(ctx context.Context, req *Request) (*Outcome, error)
}

// Request carries everything a scorer may consume: the validated descriptor,
// the effective parameters (workspace params merged over pack params) and
// lazy access to the parsed artifacts.
type Request struct {
	Workspace *api.WorkspaceDescriptor
	Params    map[string]any
	Artifacts *Artifacts
}

// Outcome is what a scorer produces; the engine turns it into the persisted
// Result. Metrics values must be plain numbers, anything richer belongs in
// Details.
type Outcome struct {
	Summary float64
	Metrics map[string]float64
	Pass    bool
	Details map[string]any
}

// Artifacts gives scorers lazy, memoized access to the workspace artifacts.
// Ground-truth reads go through the workspace manager's fingerprint cache.
type Artifacts struct {
	manager    *workspace.Manager
	ic         *invocation.Context
	descriptor *api.WorkspaceDescriptor
}

func NewArtifacts(manager *workspace.Manager, ic *invocation.Context, descriptor *api.WorkspaceDescriptor) *Artifacts {
	return &Artifacts{
		manager:    manager,
		ic:         ic,
		descriptor: descriptor,
	}
}

func (a *Artifacts) GroundTruthTable() (*workspace.LabelTable, error) {
	return a.manager.GroundTruthTable(a.ic, a.descriptor)
}

func (a *Artifacts) PredictionTable() (*workspace.LabelTable, error) {
	return a.manager.PredictionTable(a.ic, a.descriptor)
}

func (a *Artifacts) GroundTruthRecords() (*workspace.RecordSet, error) {
	return a.manager.GroundTruthRecords(a.ic, a.descriptor)
}

func (a *Artifacts) PredictionRecords() (*workspace.RecordSet, error) {
	return a.manager.PredictionRecords(a.ic, a.descriptor)
}
