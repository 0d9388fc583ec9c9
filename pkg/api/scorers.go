package api

// ScorerPackKind is the explicit registration marker a scorer-pack manifest
// must declare; sources without it are rejected rather than scanned by naming
// convention.
const ScorerPackKind = "scorer-pack"

// ScorerPackConfig contains the declarations of one scorer-pack manifest.
//
// Example YAML for scorer packs:
//
//	kind: scorer-pack
//	name: standard
//	scorers:
//	  - name: f1
//	    algorithm: f1
//	    version: "1.0.0"
//	    params:
//	      average: weighted
//	  - name: accuracy
//	    algorithm: accuracy
//	    version: "1.0.0"
type ScorerPackConfig struct {
	Kind    string         `mapstructure:"kind" yaml:"kind" json:"kind" validate:"required"`
	Name    string         `mapstructure:"name" yaml:"name" json:"name" validate:"required,min=1"`
	Scorers []ScorerConfig `mapstructure:"scorers" yaml:"scorers" json:"scorers" validate:"required,min=1,dive"`
}

// ScorerConfig binds a registry name to a built-in algorithm with fixed
// parameters. ParamsSchema, when present, is a JSON schema enforced against
// the params a workspace supplies at scoring time.
type ScorerConfig struct {
	Name         string         `mapstructure:"name" yaml:"name" json:"name" validate:"required,min=1"`
	Algorithm    string         `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm" validate:"required,min=1"`
	Version      string         `mapstructure:"version" yaml:"version" json:"version"`
	Params       map[string]any `mapstructure:"params" yaml:"params" json:"params,omitempty"`
	ParamsSchema map[string]any `mapstructure:"params_schema" yaml:"params_schema" json:"params_schema,omitempty"`
}

// ScorerInfo represents one registry listing entry
type ScorerInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Algorithm    string   `json:"algorithm,omitempty"`
	Source       string   `json:"source"`
	Fingerprint  string   `json:"fingerprint,omitempty"`
	RegisteredAt DateTime `json:"registered_at,omitempty"`
}

// ScorerInfoList represents response for listing registrations
type ScorerInfoList struct {
	TotalCount int          `json:"total_count"`
	Items      []ScorerInfo `json:"items,omitempty"`
}

// WatchInfo describes one active source watch
type WatchInfo struct {
	Source   string `json:"source"`
	Interval string `json:"interval"`
}

// WatchInfoList represents response for listing watches
type WatchInfoList struct {
	TotalCount int         `json:"total_count"`
	Items      []WatchInfo `json:"items,omitempty"`
}
