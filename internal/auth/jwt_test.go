package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate(t *testing.T) {
	s := NewJWTService("secret", 1)
	token, err := s.Generate("alice@example.com", "Alice", "co-host")
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "co-host", claims.Role)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	token, err := NewJWTService("one", 1).Generate("bob", "", "viewer")
	require.NoError(t, err)
	_, err = NewJWTService("two", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	s := NewJWTService("secret", -1)
	token, err := s.Generate("bob", "", "viewer")
	require.NoError(t, err)
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
