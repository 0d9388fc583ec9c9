package trackerclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error code the tracking API returns for a missing resource
const errorCodeResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"

// TrackerError is the structured error payload of the tracking API
type TrackerError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// APIError represents an error response from the tracking API
type APIError struct {
	StatusCode   int
	ResponseBody string
	TrackerError *TrackerError
}

func (e *APIError) Error() string {
	if e.TrackerError != nil && e.TrackerError.Message != "" {
		return fmt.Sprintf("tracker API error (status %d, code %s): %s", e.StatusCode, e.TrackerError.ErrorCode, e.TrackerError.Message)
	}
	return fmt.Sprintf("tracker API error (status %d): %s", e.StatusCode, e.ResponseBody)
}

// IsResourceDoesNotExistError reports whether err says the requested
// resource is absent, either by error code or by a plain 404 status.
func IsResourceDoesNotExistError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.TrackerError != nil && apiErr.TrackerError.ErrorCode == errorCodeResourceDoesNotExist {
		return true
	}
	return apiErr.StatusCode == http.StatusNotFound
}
