package api

// Result is the scoring outcome of one pipeline run. It is written once per
// run to the workspace output section and overwritten on re-run.
type Result struct {
	Scorer        string             `json:"scorer"`
	ScorerVersion string             `json:"scorer_version,omitempty"`
	Summary       float64            `json:"summary"`
	Metrics       map[string]float64 `json:"metrics"`
	Pass          bool               `json:"pass"`
	Details       map[string]any     `json:"details,omitempty"`
	CreatedAt     DateTime           `json:"created_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}
