package gerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := E(NotFound, "s3://b/%s", "k")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsMissing(err))

	wrapped := fmt.Errorf("fetching partition: %w", err)
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: NotFound}))
}

func TestEComposition(t *testing.T) {
	inner := errors.New("boom")
	err := E(Transient, inner)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "boom")
}
