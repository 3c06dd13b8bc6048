package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("submit: %w", &ValidationError{Fields: map[string]string{
		"reporterName": "is required",
		"address":      "is required",
	}})

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrQuotaExceeded))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
	assert.Equal(t, "validation failed: address: is required; reporterName: is required", verr.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("reporterPhone", "must contain only digits")
	assert.Equal(t, "validation failed: reporterPhone: must contain only digits", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidationError_Detail(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"floodHeight": "is required",
		"address":     "is required",
	}}
	assert.Equal(t, "address is required; floodHeight is required", err.Detail())
}
