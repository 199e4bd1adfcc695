package session

import (
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-key"))
	require.NoError(t, err)
	return tok
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	tok := signed(t, jwt.RegisteredClaims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	got, ok := ExpiresAt(tok)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))
	assert.Equal(t, "alice@example.com", Subject(tok))
}

func TestExpiresAt_NotAJWT(t *testing.T) {
	_, ok := ExpiresAt("opaque-token")
	assert.False(t, ok)
	_, ok = ExpiresAt("")
	assert.False(t, ok)
	assert.Empty(t, Subject("opaque-token"))
}

func TestExpiresAt_NoExpClaim(t *testing.T) {
	tok := signed(t, jwt.RegisteredClaims{Subject: "guest_user"})
	_, ok := ExpiresAt(tok)
	assert.False(t, ok)
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
