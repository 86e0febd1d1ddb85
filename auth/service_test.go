package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndDecodeToken(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.IssueToken("u1", "Alice", "alice@example.com", "https://example.com/a.png")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "https://example.com/a.png", claims.Picture)
}

func TestIssueTokenRequiresUserID(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	_, err := svc.IssueToken("", "Alice", "", "")
	assert.Error(t, err)
}

func TestDecodeTokenFailures(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	t.Run("Empty", func(t *testing.T) {
		_, err := svc.DecodeToken("")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := svc.DecodeToken("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewService("different-secret", time.Hour)
		token, err := other.IssueToken("u1", "", "", "")
		require.NoError(t, err)

		_, err = svc.DecodeToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		now := time.Now().UTC()
		claims := Claims{
			UserID: "u1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = svc.DecodeToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("WrongSigningMethod", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.DecodeToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("NoUserID", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = svc.DecodeToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestDecodeTokenFallsBackToSubject(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	claims, err := svc.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}
