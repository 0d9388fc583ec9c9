package api

import "time"

// ------------------------------------------------------------------------------------------------
// General naming conventions:
// ------------------------------------------------------------------------------------------------
// - ...Config - represents an object specified by the user (workspace metadata, scorer packs).
// - ...Record - represents an object stored in the history database.
// - ...RecordList / ...InfoList - represents a list of stored or listed objects
// - ...Ref - represents a reference to an object
// - ...Info - represents a read-only view produced by the core
// ------------------------------------------------------------------------------------------------

// The tenant that provides scoping for objects stored in the database but not limited to the database.
type Tenant string

type Ref struct {
	ID string `json:"id" validate:"required"`
}

type HRef struct {
	Href string `json:"href"`
}

// Error represents an error response
type Error struct {
	MessageCode string `json:"message_code"`
	Message     string `json:"message"`
	Trace       string `json:"trace"`
}

// Resource represents base resource fields
type Resource struct {
	ID        string    `json:"id"`
	Tenant    Tenant    `json:"tenant,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page represents generic pagination schema
type Page struct {
	First      *HRef `json:"first"`
	Next       *HRef `json:"next,omitempty"`
	Limit      int   `json:"limit"`
	TotalCount int   `json:"total_count"`
}

// EnvVar captures environment variables passed to the job container.
type EnvVar struct {
	Name  string `mapstructure:"name" yaml:"name" json:"name"`
	Value string `mapstructure:"value" yaml:"value" json:"value"`
}

// for marshalling and unmarshalling
type DateTime string

func DateTimeToString(date time.Time) DateTime {
	return DateTime(date.Format("2006-01-02T15:04:05Z07:00"))
}

func DateTimeFromString(date DateTime) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05Z07:00", string(date))
}
