// ================== pkg/errors/errors.go =================
package errors

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("internal server error")
	ErrValidation = errors.New("validation failed")

	// Submission taxonomy
	ErrQuotaExceeded      = errors.New("daily report quota exceeded")
	ErrPhotoInvalidFormat = errors.New("photo format not allowed")
	ErrPhotoTooLarge      = errors.New("photo exceeds size limit")
	ErrLocalStorage       = errors.New("local storage failure")
	ErrMirror             = errors.New("mirror write failed")
	ErrMirrorOffline      = errors.New("mirror offline")
)

// ValidationError carries per-field messages. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + e.join(": ")
}

// Detail lists the field problems in a readable sentence fragment, for
// example "address is required; floodHeight must be ...".
func (e *ValidationError) Detail() string {
	return e.join(" ")
}

func (e *ValidationError) join(sep string) string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+sep+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}
