package serviceerrors

import (
	"errors"
	"fmt"

	"github.com/scorehub/scorehub/internal/messages"
)

const (
	StorageCodeInternal = 500
	StorageCodeNotFound = 404
	StorageCodeConflict = 409
)

// StorageError represents an error in history store operations
type StorageError struct {
	Message string
	Code    int
}

func (e *StorageError) Error() string {
	return e.Message
}

func NewStorageErrorWithError(err error, format string, a ...any) *StorageError {
	msg := fmt.Sprintf(format, a...)
	e := fmt.Errorf("%s: %w", msg, err)
	return &StorageError{Message: e.Error(), Code: StorageCodeInternal}
}

func NewStorageError(format string, a ...any) *StorageError {
	return &StorageError{Message: fmt.Sprintf(format, a...), Code: StorageCodeInternal}
}

func NewStorageErrorWithCode(code int, format string, a ...any) *StorageError {
	return &StorageError{Message: fmt.Sprintf(format, a...), Code: code}
}

// IsNotFound reports whether err marks an absent record, either as a typed
// storage error or as a service error carrying the RecordNotFound message.
func IsNotFound(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == StorageCodeNotFound
	}
	var svc *ServiceError
	return errors.As(err, &svc) && svc.messageCode == messages.RecordNotFound
}
