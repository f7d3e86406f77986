package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(accessExpiry time.Duration) *JWTManager {
	return NewJWTManager("test-secret-key", accessExpiry, 24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateAccessToken("user-123", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, "coderoom-api", claims.Issuer)
}

func TestExpiredAccessToken(t *testing.T) {
	m := newTestManager(-time.Minute)

	token, err := m.GenerateAccessToken("user-123", "Alice")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTamperedTokenRejected(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateAccessToken("user-123", "Alice")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	m := newTestManager(time.Hour)
	other := NewJWTManager("different-secret", time.Hour, 24*time.Hour)

	token, err := m.GenerateAccessToken("user-123", "Alice")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateRefreshToken("user-123")
	require.NoError(t, err)

	userID, err := m.ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestRefreshTokenNotValidAsGarbage(t *testing.T) {
	m := newTestManager(time.Hour)

	_, err := m.ValidateRefreshToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
