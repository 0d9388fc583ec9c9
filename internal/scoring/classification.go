package scoring

import (
	"context"
	"sort"

	"github.com/scorehub/scorehub/pkg/api"
)

// f1Scorer computes per-class F1 over the label tables plus the macro, micro
// and support-weighted aggregates. The summary scalar follows the average
// parameter (weighted by default); per-class scores land in the details.
type f1Scorer struct {
	name    string
	version string
	average string
}

func newF1Scorer(cfg api.ScorerConfig) (Scorer, error) {
	average := stringParam(cfg.Params, "average", "weighted")
	switch average {
	case "macro", "micro", "weighted":
	default:
		return nil, paramsRejected(cfg.Name, "average must be macro, micro or weighted, got %q", average)
	}
	return &f1Scorer{
		name:    cfg.Name,
		version: cfg.Version,
		average: average,
	}, nil
}

func (s *f1Scorer) Name() string    { return s.name }
func (s *f1Scorer) Version() string { return s.version }

func (s *f1Scorer) Score(ctx context.Context, req *Request) (*Outcome, error) {
	gt, err := req.Artifacts.GroundTruthTable()
	if err != nil {
		return nil, err
	}
	pred, err := req.Artifacts.PredictionTable()
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(gt.IDs, func(id string) bool { _, ok := pred.Labels[id]; return ok }, pred.Path); err != nil {
		return nil, err
	}

	truePositives := map[string]int{}
	falsePositives := map[string]int{}
	falseNegatives := map[string]int{}
	support := map[string]int{}
	correct := 0
	for _, id := range gt.IDs {
		truth := gt.Labels[id]
		guess := pred.Labels[id]
		support[truth]++
		if guess == truth {
			truePositives[truth]++
			correct++
		} else {
			falsePositives[guess]++
			falseNegatives[truth]++
		}
	}

	classes := classUnion(support, falsePositives)
	perClass := map[string]float64{}
	macroSum := 0.0
	weightedSum := 0.0
	for _, class := range classes {
		score := f1ForClass(truePositives[class], falsePositives[class], falseNegatives[class])
		perClass[class] = score
		macroSum += score
		weightedSum += score * float64(support[class])
	}

	total := len(gt.IDs)
	accuracy := float64(correct) / float64(total)
	macro := 0.0
	if len(classes) > 0 {
		macro = macroSum / float64(len(classes))
	}
	weighted := weightedSum / float64(total)

	summary := weighted
	switch stringParam(req.Params, "average", s.average) {
	case "macro":
		summary = macro
	case "micro":
		summary = accuracy
	}

	metrics := map[string]float64{
		"macro_f1":    macro,
		"weighted_f1": weighted,
		"micro_f1":    accuracy,
		"accuracy":    accuracy,
	}
	return &Outcome{
		Summary: summary,
		Metrics: metrics,
		Pass:    passGate(req.Params, summary),
		Details: map[string]any{
			"per_class_f1":      perClass,
			"support":           support,
			"classes":           len(classes),
			"extra_predictions": len(pred.IDs) - total,
		},
	}, nil
}

// accuracyScorer is the fraction of ground-truth ids whose predicted label
// matches exactly.
type accuracyScorer struct {
	name    string
	version string
}

func newAccuracyScorer(cfg api.ScorerConfig) (Scorer, error) {
	return &accuracyScorer{name: cfg.Name, version: cfg.Version}, nil
}

func (s *accuracyScorer) Name() string    { return s.name }
func (s *accuracyScorer) Version() string { return s.version }

func (s *accuracyScorer) Score(ctx context.Context, req *Request) (*Outcome, error) {
	gt, err := req.Artifacts.GroundTruthTable()
	if err != nil {
		return nil, err
	}
	pred, err := req.Artifacts.PredictionTable()
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(gt.IDs, func(id string) bool { _, ok := pred.Labels[id]; return ok }, pred.Path); err != nil {
		return nil, err
	}

	correct := 0
	for _, id := range gt.IDs {
		if pred.Labels[id] == gt.Labels[id] {
			correct++
		}
	}
	total := len(gt.IDs)
	accuracy := float64(correct) / float64(total)
	return &Outcome{
		Summary: accuracy,
		Metrics: map[string]float64{
			"accuracy": accuracy,
			"correct":  float64(correct),
			"total":    float64(total),
		},
		Pass: passGate(req.Params, accuracy),
		Details: map[string]any{
			"extra_predictions": len(pred.IDs) - total,
		},
	}, nil
}

func f1ForClass(tp, fp, fn int) float64 {
	denominator := float64(2*tp + fp + fn)
	if denominator == 0 {
		return 0
	}
	return 2 * float64(tp) / denominator
}

// classUnion merges the classes present in ground truth with any class the
// predictions invented, sorted for deterministic iteration.
func classUnion(support map[string]int, falsePositives map[string]int) []string {
	seen := map[string]bool{}
	for class := range support {
		seen[class] = true
	}
	for class := range falsePositives {
		seen[class] = true
	}
	classes := make([]string, 0, len(seen))
	for class := range seen {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
