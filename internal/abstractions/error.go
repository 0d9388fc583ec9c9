package abstractions

import (
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/pkg/api"
)

// ServiceError is an interface that represents an error in the service.
// It is used to return errors from the core to the caller.
// Error() can be used to log the error in the service,
// MessageCode() and MessageParams() can be used to return the error to the caller.
// The generation of the error message for the caller is done at the envelope
// boundary where i18n can be implemented if required.
type ServiceError interface {
	Error() string                      // This allows this to be used with the error interface
	MessageCode() *messages.MessageCode // The message code to return to the caller
	MessageParams() []any               // The parameters to the message code
	Stage() api.Stage                   // The pipeline stage the error was detected in
	ShouldRollback() bool               // Whether the transaction should be rolled back due to this error
}
