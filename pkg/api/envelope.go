package api

// Stage identifies the pipeline stage an outcome was produced in.
type Stage string

const (
	StageValidation Stage = "validation"
	StageExecution  Stage = "execution"
	StageScoring    Stage = "scoring"
	// StageRegistry and StageStorage cover management and infrastructure
	// operations outside the three pipeline stages.
	StageRegistry Stage = "registry"
	StageStorage  Stage = "storage"
)

// ErrorCode is the stable error taxonomy consumed by the API/CLI collaborators
// for user-facing formatting.
type ErrorCode string

const (
	CodeImageNotFound   ErrorCode = "IMAGE_NOT_FOUND"
	CodeContainerFailed ErrorCode = "CONTAINER_FAILED"
	CodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	CodeResource        ErrorCode = "RESOURCE_ERROR"
	CodeMissingFile     ErrorCode = "MISSING_FILE"
	CodeBadFormat       ErrorCode = "BAD_FORMAT"
	CodeParse           ErrorCode = "PARSE_ERROR"
	CodeMismatch        ErrorCode = "MISMATCH"
	CodeScorerNotFound  ErrorCode = "SCORER_NOT_FOUND"
	CodeDuplicateName   ErrorCode = "DUPLICATE_NAME"
	CodeValidation      ErrorCode = "VALIDATION_ERROR"
	CodeScoring         ErrorCode = "SCORING_ERROR"
	CodeBackend         ErrorCode = "BACKEND_ERROR"
	CodeStorage         ErrorCode = "STORAGE_ERROR"
)

// EnvelopeStatus tags an envelope as success or error.
type EnvelopeStatus string

const (
	EnvelopeSuccess EnvelopeStatus = "success"
	EnvelopeError   EnvelopeStatus = "error"
)

// ErrorInfo is the failure half of an envelope: a taxonomy code, the stage it
// was produced in, a human message and a structured detail mapping.
type ErrorInfo struct {
	Code    ErrorCode      `json:"code"`
	Stage   Stage          `json:"stage"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the canonical success/failure wrapper returned by every public
// operation of the core. Failures never cross component boundaries as bare
// errors; they are converted into an envelope exactly once.
type Envelope[T any] struct {
	Status EnvelopeStatus `json:"status"`
	Value  *T             `json:"value,omitempty"`
	Error  *ErrorInfo     `json:"error,omitempty"`
}

// Success wraps a value in a success envelope.
func Success[T any](value T) Envelope[T] {
	return Envelope[T]{Status: EnvelopeSuccess, Value: &value}
}

// Failure builds a failure envelope from its parts.
func Failure[T any](code ErrorCode, stage Stage, message string, details map[string]any) Envelope[T] {
	return Envelope[T]{
		Status: EnvelopeError,
		Error: &ErrorInfo{
			Code:    code,
			Stage:   stage,
			Message: message,
			Details: details,
		},
	}
}

// FailureInfo builds a failure envelope around an already constructed ErrorInfo.
func FailureInfo[T any](info *ErrorInfo) Envelope[T] {
	return Envelope[T]{Status: EnvelopeError, Error: info}
}

// OK reports whether the envelope carries a success value.
func (e Envelope[T]) OK() bool {
	return e.Status == EnvelopeSuccess
}

// Err returns the failure half, nil for success envelopes.
func (e Envelope[T]) Err() *ErrorInfo {
	if e.Status == EnvelopeSuccess {
		return nil
	}
	return e.Error
}
