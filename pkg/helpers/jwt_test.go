package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	tok, exp, err := m.GenerateAccessToken("user-1", "a@x.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := m.ParseAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
}

func TestJWT_WrongSecret(t *testing.T) {
	tok, _, err := NewJWTManager("one", time.Minute).GenerateAccessToken("u", "")
	require.NoError(t, err)
	_, err = NewJWTManager("two", time.Minute).ParseAccessToken(tok)
	assert.Error(t, err)
}

func TestJWT_Expired(t *testing.T) {
	m := NewJWTManager("secret", -time.Minute)
	tok, _, err := m.GenerateAccessToken("u", "")
	require.NoError(t, err)
	_, err = m.ParseAccessToken(tok)
	assert.Error(t, err)
}
