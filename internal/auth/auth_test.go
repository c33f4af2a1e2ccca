package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	validator := NewValidator("secret")
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":  "u1",
		"name": "alice",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	identity, err := validator.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "u1", identity.UserID)
	require.Equal(t, "alice", identity.Username)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	validator := NewValidator("secret")
	token := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := validator.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	validator := NewValidator("secret")
	token := signToken(t, "secret", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := validator.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenMissingSubject(t *testing.T) {
	validator := NewValidator("secret")
	token := signToken(t, "secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := validator.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := signToken(t, "whatever", jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})

	got, ok := TokenExpiry(token)
	require.True(t, ok)
	require.Equal(t, exp.Unix(), got.Unix())
}

func TestTokenExpiryMissingClaim(t *testing.T) {
	token := signToken(t, "whatever", jwt.MapClaims{"sub": "u1"})

	_, ok := TokenExpiry(token)
	require.False(t, ok)

	_, ok = TokenExpiry("garbage")
	require.False(t, ok)
}
