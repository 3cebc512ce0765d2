package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIdentity(t *testing.T) {
	a, err := DeriveIdentity("203.0.113.7", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, IdentityPrefix))
	assert.Len(t, a, len(IdentityPrefix)+64)
	assert.NotContains(t, a, "203.0.113.7")

	b, err := DeriveIdentity(" 203.0.113.7 ", "")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DeriveIdentity("203.0.113.7", "device-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = DeriveIdentity("", "device-1")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestNewResultFloorsRemaining(t *testing.T) {
	assert.Equal(t, 0, NewResult("x", false, 5, 3).Remaining)
	assert.Equal(t, 2, NewResult("x", true, 1, 3).Remaining)
}
