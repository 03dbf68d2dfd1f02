package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesCodeAndSeverity(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "bad config")
	assert.Equal(t, ErrCodeConfigInvalid, err.Code)
	assert.Equal(t, SeverityLow, err.Severity)
	assert.False(t, err.Timestamp.IsZero())
	assert.Contains(t, err.Error(), "CONFIG_INVALID")
	assert.Contains(t, err.Error(), "bad config")
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, SeverityCritical, New(ErrCodeInternal, "x").Severity)
	assert.Equal(t, SeverityCritical, New(ErrCodeSimulationFailed, "x").Severity)
	assert.Equal(t, SeverityHigh, New(ErrCodeInsufficientData, "x").Severity)
	assert.Equal(t, SeverityMedium, New(ErrCodeTrialFailed, "x").Severity)
	assert.Equal(t, SeverityLow, New(ErrCodeParameterInvalid, "x").Severity)
}

func TestNewfFormats(t *testing.T) {
	err := Newf(ErrCodeParameterInvalid, "got %d, want %d", 3, 5)
	assert.Contains(t, err.Message, "got 3, want 5")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := Wrap(cause, ErrCodeDataInvalid, "loading bars")

	require.NotNil(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestWrapKeepsExistingAppError(t *testing.T) {
	original := New(ErrCodeInsufficientData, "too few bars")
	wrapped := Wrap(fmt.Errorf("outer: %w", original), ErrCodeInternal, "ignored")

	assert.Equal(t, ErrCodeInsufficientData, wrapped.Code)
	assert.True(t, IsCode(wrapped, ErrCodeInsufficientData))
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeCancelled, "stopped")
	assert.True(t, IsCode(err, ErrCodeCancelled))
	assert.False(t, IsCode(err, ErrCodeInternal))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrCodeCancelled))
	assert.False(t, IsCode(nil, ErrCodeCancelled))

	// Codes survive wrapping through the standard error chain.
	chained := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(chained, ErrCodeCancelled))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeTrialFailed, "boom").
		WithContext("trial", 17).
		WithContext("param", "fast")

	assert.Equal(t, 17, err.Context["trial"])
	assert.Equal(t, "fast", err.Context["param"])
}
