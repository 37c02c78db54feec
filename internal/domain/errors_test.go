package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapping(t *testing.T) {
	t.Run("validation error", func(t *testing.T) {
		err := NewValidationError("batch_size", "must be positive")
		assert.True(t, errors.Is(err, ErrInvalidInput))
		assert.Contains(t, err.Error(), "batch_size")
	})

	t.Run("not found error", func(t *testing.T) {
		err := NewNotFoundError("paper", "SCOPUS_ID:1")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Contains(t, err.Error(), "SCOPUS_ID:1")
	})

	t.Run("malformed record error", func(t *testing.T) {
		err := NewMalformedRecordError(3, "missing coredata")
		assert.True(t, errors.Is(err, ErrMalformedRecord))

		var malformed *MalformedRecordError
		assert.True(t, errors.As(err, &malformed))
		assert.Equal(t, 3, malformed.Index)
	})

	t.Run("wrapped errors keep their sentinel", func(t *testing.T) {
		err := fmt.Errorf("batch 2: %w", NewMalformedRecordError(0, "missing dc:identifier"))
		assert.True(t, errors.Is(err, ErrMalformedRecord))
	})
}
