package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcerptErrorIs(t *testing.T) {
	t.Run("orphan matches sentinel", func(t *testing.T) {
		err := NewOrphanError("inc-1", "src-9")

		assert.True(t, errors.Is(err, ErrOrphanReference))
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.True(t, IsOrphan(err))
	})

	t.Run("wrapped transport error", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := fmt.Errorf("batch: %w", NewTransportError("fetch failed", cause))

		assert.True(t, Is(err, ErrTransport))
		assert.True(t, IsTransport(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("not found codes", func(t *testing.T) {
		err := NewNotFoundError(ErrCodeKeyNotFound, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))

		other := NewNotFoundError(ErrCodeSourceNotFound, "missing source")
		assert.False(t, errors.Is(other, ErrNotFound))
		assert.True(t, IsNotFound(other))
	})
}

func TestExcerptErrorMessage(t *testing.T) {
	err := NewOrphanError("inc-1", "src-9")

	assert.Equal(t, `[ERR_ORPHAN_REFERENCE] id:inc-1 source "src-9" does not exist`, err.Error())
	assert.Equal(t, "src-9", err.Context["excerpt_id"])

	wrapped := NewTransportError("store write", errors.New("disk full"))
	assert.Equal(t, "[ERR_TRANSPORT] store write: disk full", wrapped.Error())
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeTransport, TypeOf(fmt.Errorf("x: %w", ErrTransport)))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestValidationErrorCollection(t *testing.T) {
	var vec ValidationErrorCollection
	assert.False(t, vec.HasErrors())
	assert.Equal(t, "no validation errors", vec.Error())

	vec.AddField("id", "", "must not be empty")
	assert.True(t, vec.HasErrors())
	assert.Equal(t, "validation error in field 'id': must not be empty", vec.Error())

	vec.AddField("name", "", "must not be empty")
	assert.Equal(t, "validation failed with 2 errors", vec.Error())
	assert.Equal(t, []string{"id", "name"}, vec.Fields())

	var nilVec *ValidationErrorCollection
	assert.False(t, nilVec.HasErrors())
	assert.Nil(t, nilVec.Fields())
}
