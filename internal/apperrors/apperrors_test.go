package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableOnlyTransient(t *testing.T) {
	assert.True(t, Retryable(&TransientHTTPError{StatusCode: 503}))
	assert.False(t, Retryable(&PermanentHTTPError{StatusCode: 400}))
	assert.False(t, Retryable(errors.New("boom")))
}

func TestErrorsUnwrapToCause(t *testing.T) {
	cause := errors.New("disk full")

	cfgErr := &ConfigError{Detail: "reading file", Cause: cause}
	assert.ErrorIs(t, cfgErr, cause)

	httpErr := &TransientHTTPError{StatusCode: 500, Cause: cause}
	assert.ErrorIs(t, httpErr, cause)

	storeErr := &StorageError{Op: "upsert", Cause: cause}
	assert.ErrorIs(t, storeErr, cause)
}

func TestPermanentHTTPErrorMessage(t *testing.T) {
	err := &PermanentHTTPError{StatusCode: 400, Body: "bad symbol"}
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad symbol")
}
