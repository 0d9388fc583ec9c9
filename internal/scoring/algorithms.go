package scoring

import (
	"fmt"
	"sort"

	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// defaultPassThreshold gates Pass when neither the pack nor the workspace
// declares a pass_threshold parameter.
const defaultPassThreshold = 0.5

// Factory instantiates a scorer from its pack declaration. Factories validate
// the declared params and fail the load rather than deferring the failure to
// scoring time.
type Factory func(cfg api.ScorerConfig) (Scorer, error)

var builtins = map[string]Factory{
	"f1":          newF1Scorer,
	"accuracy":    newAccuracyScorer,
	"exact_match": newExactMatchScorer,
	"json_field":  newJSONFieldScorer,
	"regression":  newRegressionScorer,
}

// NewScorer instantiates the built-in algorithm a pack entry references.
func NewScorer(cfg api.ScorerConfig) (Scorer, error) {
	factory, ok := builtins[cfg.Algorithm]
	if !ok {
		return nil, serviceerrors.NewServiceError(messages.UnknownAlgorithm,
			"Name", cfg.Name, "Algorithm", cfg.Algorithm).WithStage(api.StageRegistry)
	}
	return factory(cfg)
}

// Algorithms lists the built-in algorithm names, sorted for stable output.
func Algorithms() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkCoverage fails with MISMATCH when predictions do not cover every
// ground-truth id. Extra prediction ids are not an error; scorers surface
// them in details instead.
func checkCoverage(gtIDs []string, has func(string) bool, predPath string) error {
	var missing []string
	for _, id := range gtIDs {
		if !has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return serviceerrors.NewServiceError(messages.PredictionsIncomplete,
			"Path", predPath, "Count", len(missing), "ID", missing[0]).WithStage(api.StageScoring)
	}
	return nil
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	value, ok := params[key]
	if !ok {
		return fallback
	}
	switch number := value.(type) {
	case float64:
		return number
	case float32:
		return float64(number)
	case int:
		return float64(number)
	case int64:
		return float64(number)
	}
	return fallback
}

func stringParam(params map[string]any, key string, fallback string) string {
	if value, ok := params[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if value, ok := params[key].(bool); ok {
		return value
	}
	return fallback
}

// passGate applies the pass_threshold parameter against the summary scalar.
func passGate(params map[string]any, summary float64) bool {
	return summary >= floatParam(params, "pass_threshold", defaultPassThreshold)
}

func paramsRejected(name string, format string, args ...any) error {
	return serviceerrors.NewServiceError(messages.ParamsRejected,
		"Name", name, "Violations", fmt.Sprintf(format, args...)).WithStage(api.StageRegistry)
}
