package registry

import (
	"plugin"
	"time"

	"github.com/scorehub/scorehub/internal/fingerprint"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// PluginEntrySymbol is the one symbol a scorer plugin must export, with type
// func() []scoring.Scorer. Nothing else in the object file is inspected.
const PluginEntrySymbol = "Scorers"

func (r *Registry) parsePlugin(ic *invocation.Context, source string, fp fingerprint.Info) ([]*Registration, error) {
	object, err := plugin.Open(source)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.SourceUnparseable,
			"Source", source, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	symbol, err := object.Lookup(PluginEntrySymbol)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.PluginEntryMissing,
			"Source", source, "Symbol", PluginEntrySymbol).WithStage(api.StageRegistry)
	}
	entry, ok := symbol.(func() []scoring.Scorer)
	if !ok {
		return nil, serviceerrors.NewServiceError(messages.PluginEntryMissing,
			"Source", source, "Symbol", PluginEntrySymbol).WithStage(api.StageRegistry)
	}

	now := time.Now().UTC()
	scorers := entry()
	registrations := make([]*Registration, 0, len(scorers))
	seen := map[string]bool{}
	for _, scorer := range scorers {
		if seen[scorer.Name()] {
			return nil, serviceerrors.NewServiceError(messages.DuplicateScorer,
				"Name", scorer.Name(), "Source", source).WithStage(api.StageRegistry)
		}
		seen[scorer.Name()] = true
		registrations = append(registrations, &Registration{
			Name:         scorer.Name(),
			Version:      scorer.Version(),
			Source:       source,
			Fingerprint:  fp,
			RegisteredAt: now,
			Scorer:       scorer,
		})
	}
	ic.Logger.Debug("Plugin scorers discovered", "count", len(registrations))
	return registrations, nil
}
