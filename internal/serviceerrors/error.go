package serviceerrors

import (
	"errors"
	"strings"
	"unicode"

	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/pkg/api"
)

// ServiceError is the typed error that flows inside the core until it reaches
// the envelope boundary. It carries the message code (taxonomy code plus
// message template), the template parameters and the pipeline stage it was
// detected in.
type ServiceError struct {
	messageCode   *messages.MessageCode
	messageParams []any
	stage         api.Stage
	rollback      bool
}

func (e *ServiceError) Error() string {
	return messages.GetErrorMessage(e.messageCode, e.messageParams...)
}

func (e *ServiceError) MessageCode() *messages.MessageCode {
	return e.messageCode
}

func (e *ServiceError) MessageParams() []any {
	return e.messageParams
}

func (e *ServiceError) Stage() api.Stage {
	return e.stage
}

func (e *ServiceError) ShouldRollback() bool {
	return e.rollback
}

// Details renders the message parameters as a snake_case detail mapping for
// the failure envelope.
func (e *ServiceError) Details() map[string]any {
	if len(e.messageParams) == 0 {
		return nil
	}
	details := make(map[string]any, len(e.messageParams)/2)
	for i := 0; i+1 < len(e.messageParams); i += 2 {
		details[toSnake(e.messageParams[i])] = e.messageParams[i+1]
	}
	return details
}

// ToErrorInfo converts the error into the envelope failure half. The stage
// recorded on the error wins over the fallback.
func (e *ServiceError) ToErrorInfo(fallback api.Stage) *api.ErrorInfo {
	stage := e.stage
	if stage == "" {
		stage = fallback
	}
	return &api.ErrorInfo{
		Code:    e.messageCode.GetCode(),
		Stage:   stage,
		Message: e.Error(),
		Details: e.Details(),
	}
}

func NewServiceError(messageCode *messages.MessageCode, messageParams ...any) *ServiceError {
	return &ServiceError{
		messageCode:   messageCode,
		messageParams: messageParams,
		rollback:      false, // the default is to commit the transaction
	}
}

func (e *ServiceError) WithStage(stage api.Stage) *ServiceError {
	return &ServiceError{
		messageCode:   e.messageCode,
		messageParams: e.messageParams,
		stage:         stage,
		rollback:      e.rollback,
	}
}

func (e *ServiceError) WithRollback() *ServiceError {
	return &ServiceError{
		messageCode:   e.messageCode,
		messageParams: e.messageParams,
		stage:         e.stage,
		rollback:      true,
	}
}

func WithRollback(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.WithRollback()
	}
	return &ServiceError{
		messageCode:   messages.UnknownError,
		messageParams: []any{"Error", err.Error()},
		rollback:      true,
	}
}

// ToErrorInfo is the single conversion point for arbitrary errors reaching an
// envelope boundary: service errors keep their code and recorded stage,
// anything else becomes the fallback code for the given stage.
func ToErrorInfo(err error, fallbackStage api.Stage, fallbackCode api.ErrorCode) *api.ErrorInfo {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.ToErrorInfo(fallbackStage)
	}
	return &api.ErrorInfo{
		Code:    fallbackCode,
		Stage:   fallbackStage,
		Message: messages.GetErrorMessage(messages.UnknownError, "Error", err.Error()),
	}
}

func toSnake(param any) string {
	name, ok := param.(string)
	if !ok {
		return "param"
	}
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && !unicode.IsUpper(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
