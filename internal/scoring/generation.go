package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// exactMatchScorer compares one text field of every prediction record with
// the ground-truth record. Normalization is controlled by the strip and
// case_sensitive parameters.
type exactMatchScorer struct {
	name          string
	version       string
	field         string
	strip         bool
	caseSensitive bool
}

func newExactMatchScorer(cfg api.ScorerConfig) (Scorer, error) {
	return &exactMatchScorer{
		name:          cfg.Name,
		version:       cfg.Version,
		field:         stringParam(cfg.Params, "field", "text"),
		strip:         boolParam(cfg.Params, "strip", true),
		caseSensitive: boolParam(cfg.Params, "case_sensitive", true),
	}, nil
}

func (s *exactMatchScorer) Name() string    { return s.name }
func (s *exactMatchScorer) Version() string { return s.version }

func (s *exactMatchScorer) Score(ctx context.Context, req *Request) (*Outcome, error) {
	gt, err := req.Artifacts.GroundTruthRecords()
	if err != nil {
		return nil, err
	}
	pred, err := req.Artifacts.PredictionRecords()
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(gt.IDs, func(id string) bool { _, ok := pred.Records[id]; return ok }, pred.Path); err != nil {
		return nil, err
	}

	field := stringParam(req.Params, "field", s.field)
	strip := boolParam(req.Params, "strip", s.strip)
	caseSensitive := boolParam(req.Params, "case_sensitive", s.caseSensitive)

	matched := 0
	missingField := 0
	for _, id := range gt.IDs {
		expected, ok := gt.Records[id].Path(field).Data().(string)
		if !ok {
			return nil, serviceerrors.NewServiceError(messages.ScoringFailed,
				"Name", s.name,
				"Error", fmt.Sprintf("ground truth record %q has no string field %q", id, field),
			).WithStage(api.StageScoring)
		}
		actual, ok := pred.Records[id].Path(field).Data().(string)
		if !ok {
			missingField++
			continue
		}
		if normalize(expected, strip, caseSensitive) == normalize(actual, strip, caseSensitive) {
			matched++
		}
	}

	total := len(gt.IDs)
	rate := float64(matched) / float64(total)
	return &Outcome{
		Summary: rate,
		Metrics: map[string]float64{
			"exact_match": rate,
			"matched":     float64(matched),
			"total":       float64(total),
		},
		Pass: passGate(req.Params, rate),
		Details: map[string]any{
			"field":             field,
			"missing_field":     missingField,
			"extra_predictions": len(pred.IDs) - total,
		},
	}, nil
}

// jsonFieldScorer extracts a value from every record pair with a JSONPath
// expression and compares them, numerically within tolerance when both sides
// are numbers.
type jsonFieldScorer struct {
	name      string
	version   string
	path      string
	tolerance float64
}

func newJSONFieldScorer(cfg api.ScorerConfig) (Scorer, error) {
	path := stringParam(cfg.Params, "path", "")
	if path == "" {
		return nil, paramsRejected(cfg.Name, "a JSONPath expression is required in the path param")
	}
	if _, err := jsonpath.New(path); err != nil {
		return nil, paramsRejected(cfg.Name, "invalid JSONPath %q: %v", path, err)
	}
	return &jsonFieldScorer{
		name:      cfg.Name,
		version:   cfg.Version,
		path:      path,
		tolerance: floatParam(cfg.Params, "tolerance", 0),
	}, nil
}

func (s *jsonFieldScorer) Name() string    { return s.name }
func (s *jsonFieldScorer) Version() string { return s.version }

func (s *jsonFieldScorer) Score(ctx context.Context, req *Request) (*Outcome, error) {
	gt, err := req.Artifacts.GroundTruthRecords()
	if err != nil {
		return nil, err
	}
	pred, err := req.Artifacts.PredictionRecords()
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(gt.IDs, func(id string) bool { _, ok := pred.Records[id]; return ok }, pred.Path); err != nil {
		return nil, err
	}

	tolerance := floatParam(req.Params, "tolerance", s.tolerance)
	matched := 0
	missingPath := 0
	for _, id := range gt.IDs {
		expected, err := jsonpath.Get(s.path, gt.Records[id].Data())
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.ScoringFailed,
				"Name", s.name,
				"Error", fmt.Sprintf("ground truth record %q has no value at %s: %v", id, s.path, err),
			).WithStage(api.StageScoring)
		}
		actual, err := jsonpath.Get(s.path, pred.Records[id].Data())
		if err != nil {
			missingPath++
			continue
		}
		if valuesMatch(expected, actual, tolerance) {
			matched++
		}
	}

	total := len(gt.IDs)
	rate := float64(matched) / float64(total)
	return &Outcome{
		Summary: rate,
		Metrics: map[string]float64{
			"field_match": rate,
			"matched":     float64(matched),
			"total":       float64(total),
		},
		Pass: passGate(req.Params, rate),
		Details: map[string]any{
			"path":              s.path,
			"missing_path":      missingPath,
			"extra_predictions": len(pred.IDs) - total,
		},
	}, nil
}

func normalize(value string, strip bool, caseSensitive bool) string {
	if strip {
		value = strings.TrimSpace(value)
	}
	if !caseSensitive {
		value = strings.ToLower(value)
	}
	return value
}

func valuesMatch(expected any, actual any, tolerance float64) bool {
	expectedNumber, expectedIsNumber := asFloat(expected)
	actualNumber, actualIsNumber := asFloat(actual)
	if expectedIsNumber && actualIsNumber {
		difference := expectedNumber - actualNumber
		if difference < 0 {
			difference = -difference
		}
		return difference <= tolerance
	}
	return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
}

func asFloat(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case float32:
		return float64(number), true
	case int:
		return float64(number), true
	case int64:
		return float64(number), true
	}
	return 0, false
}
