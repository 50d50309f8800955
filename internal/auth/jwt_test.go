package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(42, "customer", testSecret, CustomerTokenTTL)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "customer", claims.Role)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(42, "admin", testSecret, AdminTokenTTL)
	require.NoError(t, err)

	_, err = ParseToken(token, "some-other-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenExpired(t *testing.T) {
	token, err := GenerateToken(42, "customer", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := ParseToken("not.a.token", testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenMissing(t *testing.T) {
	_, err := ParseToken("", testSecret)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestParseTokenRejectsUnsignedAlg(t *testing.T) {
	claims := Claims{
		UserID: 42,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTTLForRole(t *testing.T) {
	assert.Equal(t, AdminTokenTTL, TTLForRole("admin"))
	assert.Equal(t, CustomerTokenTTL, TTLForRole("customer"))
	assert.Equal(t, CustomerTokenTTL, TTLForRole(""))
}
