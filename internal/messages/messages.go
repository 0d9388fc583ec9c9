package messages

import (
	"fmt"
	"strings"

	"github.com/scorehub/scorehub/pkg/api"
)

// This package provides all the error messages that should be reported to the user.
// Each message is bound to its taxonomy code so the collaborators formatting
// user-facing output never have to map codes themselves.
// Note that we add a comment with the message parameters so that it is possible
// to see the parameters in the IDE when creating an error message.
var (
	// Workspace validation errors

	// WorkspaceNotFound The workspace directory '{{.Path}}' does not exist.
	WorkspaceNotFound = createMessage(
		api.CodeMissingFile,
		"The workspace directory '{{.Path}}' does not exist.",
	)

	// MissingFile The required file '{{.Path}}' is missing.
	MissingFile = createMessage(
		api.CodeMissingFile,
		"The required file '{{.Path}}' is missing.",
	)

	// MetadataUnparseable The metadata file '{{.Path}}' cannot be parsed: '{{.Error}}'.
	MetadataUnparseable = createMessage(
		api.CodeBadFormat,
		"The metadata file '{{.Path}}' cannot be parsed: '{{.Error}}'.",
	)

	// QuantityInvalid The resource quantity '{{.Value}}' for '{{.Field}}' is not valid: '{{.Error}}'.
	QuantityInvalid = createMessage(
		api.CodeBadFormat,
		"The resource quantity '{{.Value}}' for '{{.Field}}' is not valid: '{{.Error}}'.",
	)

	// FieldInvalid The field '{{.Field}}' is invalid: '{{.Error}}'.
	FieldInvalid = createMessage(
		api.CodeValidation,
		"The field '{{.Field}}' is invalid: '{{.Error}}'.",
	)

	// ScorerNameRequired A scorer name is required when a scoring stage is requested.
	ScorerNameRequired = createMessage(
		api.CodeValidation,
		"A scorer name is required when a scoring stage is requested.",
	)

	// ImageRequired An image reference is required when an execution stage is requested.
	ImageRequired = createMessage(
		api.CodeValidation,
		"An image reference is required when an execution stage is requested.",
	)

	// Execution errors

	// ImageNotFound The image '{{.Image}}' was not found: '{{.Error}}'.
	ImageNotFound = createMessage(
		api.CodeImageNotFound,
		"The image '{{.Image}}' was not found: '{{.Error}}'.",
	)

	// ContainerFailed The container exited with status {{.ExitCode}}; logs at '{{.LogPath}}'.
	ContainerFailed = createMessage(
		api.CodeContainerFailed,
		"The container exited with status {{.ExitCode}}; logs at '{{.LogPath}}'.",
	)

	// ExecutionTimeout The execution exceeded the {{.TimeoutSeconds}}s timeout and was terminated.
	ExecutionTimeout = createMessage(
		api.CodeTimeout,
		"The execution exceeded the {{.TimeoutSeconds}}s timeout and was terminated.",
	)

	// ResourceExceeded The container exceeded its declared {{.Resource}} limit.
	ResourceExceeded = createMessage(
		api.CodeResource,
		"The container exceeded its declared {{.Resource}} limit.",
	)

	// BackendUnavailable The {{.Backend}} backend is unavailable: '{{.Error}}'.
	BackendUnavailable = createMessage(
		api.CodeBackend,
		"The {{.Backend}} backend is unavailable: '{{.Error}}'.",
	)

	// BackendOperationFailed The {{.Backend}} backend operation '{{.Operation}}' failed: '{{.Error}}'.
	BackendOperationFailed = createMessage(
		api.CodeBackend,
		"The {{.Backend}} backend operation '{{.Operation}}' failed: '{{.Error}}'.",
	)

	// Registry errors

	// SourceUnreadable The scorer source '{{.Source}}' cannot be read: '{{.Error}}'.
	SourceUnreadable = createMessage(
		api.CodeParse,
		"The scorer source '{{.Source}}' cannot be read: '{{.Error}}'.",
	)

	// SourceUnparseable The scorer source '{{.Source}}' cannot be parsed: '{{.Error}}'.
	SourceUnparseable = createMessage(
		api.CodeParse,
		"The scorer source '{{.Source}}' cannot be parsed: '{{.Error}}'.",
	)

	// SourceNotScorerPack The source '{{.Source}}' does not declare kind '{{.Kind}}'.
	SourceNotScorerPack = createMessage(
		api.CodeBadFormat,
		"The source '{{.Source}}' does not declare kind '{{.Kind}}'.",
	)

	// PluginEntryMissing The plugin '{{.Source}}' does not export a usable '{{.Symbol}}' entry point.
	PluginEntryMissing = createMessage(
		api.CodeBadFormat,
		"The plugin '{{.Source}}' does not export a usable '{{.Symbol}}' entry point.",
	)

	// UnknownAlgorithm The scorer '{{.Name}}' references the unknown algorithm '{{.Algorithm}}'.
	UnknownAlgorithm = createMessage(
		api.CodeBadFormat,
		"The scorer '{{.Name}}' references the unknown algorithm '{{.Algorithm}}'.",
	)

	// SchemaInvalid The params schema for scorer '{{.Name}}' is invalid: '{{.Error}}'.
	SchemaInvalid = createMessage(
		api.CodeBadFormat,
		"The params schema for scorer '{{.Name}}' is invalid: '{{.Error}}'.",
	)

	// ParamsRejected The params for scorer '{{.Name}}' were rejected: {{.Violations}}.
	ParamsRejected = createMessage(
		api.CodeValidation,
		"The params for scorer '{{.Name}}' were rejected: {{.Violations}}.",
	)

	// ParamsPatchInvalid The params patch cannot be applied: '{{.Error}}'.
	ParamsPatchInvalid = createMessage(
		api.CodeBadFormat,
		"The params patch cannot be applied: '{{.Error}}'.",
	)

	// DuplicateScorer The scorer '{{.Name}}' is already registered from '{{.Source}}'.
	DuplicateScorer = createMessage(
		api.CodeDuplicateName,
		"The scorer '{{.Name}}' is already registered from '{{.Source}}'.",
	)

	// ScorerNotFound The scorer '{{.Name}}' is not registered.
	ScorerNotFound = createMessage(
		api.CodeScorerNotFound,
		"The scorer '{{.Name}}' is not registered.",
	)

	// WatchNotFound No watch is established for source '{{.Source}}'.
	WatchNotFound = createMessage(
		api.CodeValidation,
		"No watch is established for source '{{.Source}}'.",
	)

	// Scoring errors

	// ArtifactRowInvalid The artifact '{{.Path}}' has an invalid row {{.Row}}: '{{.Error}}'.
	ArtifactRowInvalid = createMessage(
		api.CodeParse,
		"The artifact '{{.Path}}' has an invalid row {{.Row}}: '{{.Error}}'.",
	)

	// ArtifactEmpty The artifact '{{.Path}}' contains no data rows.
	ArtifactEmpty = createMessage(
		api.CodeBadFormat,
		"The artifact '{{.Path}}' contains no data rows.",
	)

	// ArtifactDuplicateID The artifact '{{.Path}}' contains the duplicate id '{{.ID}}'.
	ArtifactDuplicateID = createMessage(
		api.CodeBadFormat,
		"The artifact '{{.Path}}' contains the duplicate id '{{.ID}}'.",
	)

	// PredictionsIncomplete The predictions at '{{.Path}}' do not cover {{.Count}} ground-truth ids (first missing: '{{.ID}}').
	PredictionsIncomplete = createMessage(
		api.CodeMismatch,
		"The predictions at '{{.Path}}' do not cover {{.Count}} ground-truth ids (first missing: '{{.ID}}').",
	)

	// ScoringFailed The scorer '{{.Name}}' failed: '{{.Error}}'.
	ScoringFailed = createMessage(
		api.CodeScoring,
		"The scorer '{{.Name}}' failed: '{{.Error}}'.",
	)

	// ScorerPanicked The scorer '{{.Name}}' panicked: '{{.Error}}'.
	ScorerPanicked = createMessage(
		api.CodeScoring,
		"The scorer '{{.Name}}' panicked: '{{.Error}}'.",
	)

	// ResultWriteFailed The result for workspace '{{.Path}}' could not be written: '{{.Error}}'.
	ResultWriteFailed = createMessage(
		api.CodeScoring,
		"The result for workspace '{{.Path}}' could not be written: '{{.Error}}'.",
	)

	// Configuration related errors

	// ConfigurationFailed The service startup failed: '{{.Error}}'.
	ConfigurationFailed = createMessage(
		api.CodeValidation,
		"The service startup failed: '{{.Error}}'.",
	)

	// JSON errors that are not coming from user input

	// JSONUnmarshalFailed The JSON unmarshalling failed for the {{.Type}}: '{{.Error}}'.
	JSONUnmarshalFailed = createMessage(
		api.CodeBadFormat,
		"The JSON unmarshalling failed for the {{.Type}}: '{{.Error}}'.",
	)

	// Storage related errors

	// DatabaseOperationFailed The request for the {{.Type}} record {{.ResourceId}} failed: '{{.Error}}'.
	DatabaseOperationFailed = createMessage(
		api.CodeStorage,
		"The request for the {{.Type}} record {{.ResourceId}} failed: '{{.Error}}'.",
	)
	// QueryFailed The request for the {{.Type}} failed: '{{.Error}}'.
	QueryFailed = createMessage(
		api.CodeStorage,
		"The request for the {{.Type}} failed: '{{.Error}}'.",
	)
	// RecordNotFound The {{.Type}} record '{{.ResourceId}}' was not found.
	RecordNotFound = createMessage(
		api.CodeStorage,
		"The {{.Type}} record '{{.ResourceId}}' was not found.",
	)

	// HistoryUnavailable The run history store is not configured.
	HistoryUnavailable = createMessage(
		api.CodeStorage,
		"The run history store is not configured.",
	)

	// UnknownError An unknown error occurred: '{{.Error}}'. This is a fallback error if the error is not a service error.
	UnknownError = createMessage(
		api.CodeScoring,
		"An unknown error occurred: {{.Error}}.",
	)
)

type MessageCode struct {
	code api.ErrorCode
	one  string
}

func (m *MessageCode) GetCode() api.ErrorCode {
	return m.code
}

func (m *MessageCode) GetMessage() string {
	return m.one
}

func createMessage(code api.ErrorCode, one string) *MessageCode {
	return &MessageCode{
		code,
		one,
	}
}

func GetErrorMessage(messageCode *MessageCode, messageParams ...any) string {
	msg := messageCode.GetMessage()
	for i := 0; i < len(messageParams); i += 2 {
		param := messageParams[i]
		var paramValue any
		if i+1 < len(messageParams) {
			paramValue = messageParams[i+1]
		} else {
			paramValue = "NOT_DEFINED" // this is a placeholder for a missing parameter value - if you see this value then the code needs to be fixed
		}
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{{.%v}}", param), fmt.Sprintf("%v", paramValue))
	}
	return msg
}
