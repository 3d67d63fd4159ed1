package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpErrorKinds(t *testing.T) {
	assert.Equal(t, KindValidation, ValidationError("publish", "bad arg").Kind)
	assert.Equal(t, KindConflict, ConflictError("publish", "already exists").Kind)
	assert.Equal(t, KindInvariant, InvariantError("subscriber_unregister", "went negative").Kind)

	wrapped := WrapError("get_message", errors.New("connection reset"))
	assert.Equal(t, KindTransport, wrapped.Kind)
	assert.ErrorIs(t, wrapped, wrapped.Err)
}

func TestOpErrorUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	outer := WrapError("publish", inner)
	assert.True(t, errors.Is(outer, inner))
}

func TestOpErrorMessage(t *testing.T) {
	err := ValidationError("add_fakesub", "delta must be a number")
	assert.Contains(t, err.Error(), "add_fakesub")
	assert.Contains(t, err.Error(), "delta must be a number")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "invariant", KindInvariant.String())
	assert.Equal(t, "transport", KindTransport.String())
}
