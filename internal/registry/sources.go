package registry

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/fingerprint"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
	"github.com/xeipuuv/gojsonschema"
	yaml "gopkg.in/yaml.v3"
)

// Load parses a source, registers everything it declares and optionally
// establishes a watch on it. Loading a source again behaves like a reload of
// that source.
func (r *Registry) Load(ic *invocation.Context, source string, autoWatch bool, watchInterval time.Duration) ([]api.ScorerInfo, error) {
	infos, err := r.loadSource(ic, source, api.RegistryEventLoad)
	if err != nil {
		return nil, err
	}
	if autoWatch {
		if err := r.Watch(ic, source, watchInterval); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

// Reload re-parses a source and atomically swaps the registrations loaded
// from it. Concurrent reloads of the same source are deduplicated; callers
// share the outcome of the single parse.
func (r *Registry) Reload(ic *invocation.Context, source string) ([]api.ScorerInfo, error) {
	return r.reload(ic, source, api.RegistryEventReload)
}

func (r *Registry) reload(ic *invocation.Context, source string, kind api.RegistryEventKind) ([]api.ScorerInfo, error) {
	outcome, err, _ := r.reloads.Do(source, func() (any, error) {
		return r.loadSource(ic, source, kind)
	})
	if err != nil {
		return nil, err
	}
	return outcome.([]api.ScorerInfo), nil
}

func (r *Registry) loadSource(ic *invocation.Context, source string, kind api.RegistryEventKind) ([]api.ScorerInfo, error) {
	registrations, err := r.parseSource(ic, source)
	if err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		r.recordEvent(ic, kind, source, 0, err)
		return nil, err
	}
	if err := r.swapSource(source, registrations); err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		r.recordEvent(ic, kind, source, 0, err)
		return nil, err
	}

	metrics.RegistryReloadsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	r.recordEvent(ic, kind, source, len(registrations), nil)
	r.updateGauge()

	infos := make([]api.ScorerInfo, 0, len(registrations))
	for _, registration := range registrations {
		infos = append(infos, registration.Info())
	}
	ic.Logger.Info("Source loaded", constants.LOG_SOURCE, source, "scorers", len(infos), "kind", string(kind))
	return infos, nil
}

// parseSource turns a source location into registrations without touching
// the registry state. Supported kinds: scorer-pack YAML manifests and Go
// plugin objects.
func (r *Registry) parseSource(ic *invocation.Context, source string) ([]*Registration, error) {
	fp, err := fingerprint.Of(source)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.SourceUnreadable,
			"Source", source, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".yaml", ".yml":
		return r.parseManifest(ic, source, fp)
	case ".so":
		return r.parsePlugin(ic, source, fp)
	default:
		return nil, serviceerrors.NewServiceError(messages.SourceNotScorerPack,
			"Source", source, "Kind", api.ScorerPackKind).WithStage(api.StageRegistry)
	}
}

func (r *Registry) parseManifest(ic *invocation.Context, source string, fp fingerprint.Info) ([]*Registration, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.SourceUnreadable,
			"Source", source, "Error", err.Error()).WithStage(api.StageRegistry)
	}

	pack := api.ScorerPackConfig{}
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, serviceerrors.NewServiceError(messages.SourceUnparseable,
			"Source", source, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	// the explicit registration marker; anything else is not a scorer pack
	if pack.Kind != api.ScorerPackKind {
		return nil, serviceerrors.NewServiceError(messages.SourceNotScorerPack,
			"Source", source, "Kind", api.ScorerPackKind).WithStage(api.StageRegistry)
	}
	if err := r.validate.StructCtx(ic.Ctx, &pack); err != nil {
		return nil, serviceerrors.NewServiceError(messages.SourceUnparseable,
			"Source", source, "Error", err.Error()).WithStage(api.StageRegistry)
	}

	now := time.Now().UTC()
	registrations := make([]*Registration, 0, len(pack.Scorers))
	seen := map[string]bool{}
	for _, cfg := range pack.Scorers {
		if seen[cfg.Name] {
			return nil, serviceerrors.NewServiceError(messages.DuplicateScorer,
				"Name", cfg.Name, "Source", source).WithStage(api.StageRegistry)
		}
		seen[cfg.Name] = true

		scorer, err := scoring.NewScorer(cfg)
		if err != nil {
			return nil, err
		}
		var schema *gojsonschema.Schema
		if cfg.ParamsSchema != nil {
			schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(cfg.ParamsSchema))
			if err != nil {
				return nil, serviceerrors.NewServiceError(messages.SchemaInvalid,
					"Name", cfg.Name, "Error", err.Error()).WithStage(api.StageRegistry)
			}
		}
		registrations = append(registrations, &Registration{
			Name:         cfg.Name,
			Version:      cfg.Version,
			Algorithm:    cfg.Algorithm,
			Source:       source,
			Fingerprint:  fp,
			RegisteredAt: now,
			Scorer:       scorer,
			PackParams:   cfg.Params,
			Schema:       schema,
		})
	}
	return registrations, nil
}

// LoadPackDirs scans the first existing candidate directory for scorer-pack
// sources and loads each, mirroring the config file search order. Used at
// startup for the bundled packs.
func (r *Registry) LoadPackDirs(ic *invocation.Context, autoWatch bool, watchInterval time.Duration, dirs ...string) ([]api.ScorerInfo, error) {
	if len(dirs) == 0 {
		dirs = []string{"config/scorers", "./config/scorers", "../../config/scorers"}
	}
	dir, files := scanPackDir(dirs...)
	if dir == "" {
		r.logger.Warn("No scorer packs found", "directories", dirs)
		return []api.ScorerInfo{}, nil
	}

	loaded := []api.ScorerInfo{}
	for _, file := range files {
		if file.IsDir() || !isSourceName(file.Name()) {
			continue
		}
		infos, err := r.Load(ic, filepath.Join(dir, file.Name()), autoWatch, watchInterval)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, infos...)
	}
	return loaded, nil
}

func scanPackDir(dirs ...string) (string, []os.DirEntry) {
	for _, dir := range dirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		return dir, files
	}
	return "", nil
}

func isSourceName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".so":
		return true
	}
	return false
}
