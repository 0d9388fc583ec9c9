package scoring

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/internal/workspace"
	"github.com/scorehub/scorehub/pkg/api"
)

// regressionScorer computes the usual error metrics over numeric label
// tables. The summary scalar is R²; mean errors are reported alongside.
type regressionScorer struct {
	name    string
	version string
}

func newRegressionScorer(cfg api.ScorerConfig) (Scorer, error) {
	return &regressionScorer{name: cfg.Name, version: cfg.Version}, nil
}

func (s *regressionScorer) Name() string    { return s.name }
func (s *regressionScorer) Version() string { return s.version }

func (s *regressionScorer) Score(ctx context.Context, req *Request) (*Outcome, error) {
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

	truth, err := numericValues(gt)
	if err != nil {
		return nil, err
	}
	guesses, err := numericValues(pred)
	if err != nil {
		return nil, err
	}

	count := float64(len(gt.IDs))
	mean := 0.0
	for _, id := range gt.IDs {
		mean += truth[id]
	}
	mean /= count

	absoluteSum := 0.0
	squaredSum := 0.0
	totalSquares := 0.0
	for _, id := range gt.IDs {
		residual := truth[id] - guesses[id]
		absoluteSum += math.Abs(residual)
		squaredSum += residual * residual
		deviation := truth[id] - mean
		totalSquares += deviation * deviation
	}

	mae := absoluteSum / count
	mse := squaredSum / count
	rmse := math.Sqrt(mse)
	r2 := 0.0
	if totalSquares > 0 {
		r2 = 1 - squaredSum/totalSquares
	} else if squaredSum == 0 {
		r2 = 1
	}

	return &Outcome{
		Summary: r2,
		Metrics: map[string]float64{
			"r2":    r2,
			"mae":   mae,
			"mse":   mse,
			"rmse":  rmse,
			"count": count,
		},
		Pass: passGate(req.Params, r2),
		Details: map[string]any{
			"extra_predictions": len(pred.IDs) - len(gt.IDs),
		},
	}, nil
}

func numericValues(table *workspace.LabelTable) (map[string]float64, error) {
	values := make(map[string]float64, len(table.IDs))
	for _, id := range table.IDs {
		value, err := strconv.ParseFloat(table.Labels[id], 64)
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
				"Path", table.Path,
				"Row", id,
				"Error", fmt.Sprintf("not a number: %q", table.Labels[id]),
			).WithStage(api.StageScoring)
		}
		values[id] = value
	}
	return values, nil
}
